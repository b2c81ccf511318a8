package ir

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Address identifies a single slot in a public queue.
// A reply address routes a callee's output back to whoever is waiting on it:
// another workflow's results stream or an external caller's inbox.
type Address struct {
	Queue string `json:"queue"`
	Key   string `json:"key"`
}

// String renders the address as "queue#key".
func (a Address) String() string {
	return a.Queue + "#" + a.Key
}

// IsZero reports whether the address is unset.
func (a Address) IsZero() bool {
	return a.Queue == "" && a.Key == ""
}

// ParseAddress parses the "queue#key" form produced by Address.String.
func ParseAddress(s string) (Address, error) {
	i := strings.LastIndex(s, "#")
	if i <= 0 || i == len(s)-1 {
		return Address{}, fmt.Errorf("parse address %q: want queue#key", s)
	}
	return Address{Queue: s[:i], Key: s[i+1:]}, nil
}

// Invocation is a pending request to run a workflow or service.
// It is stored in the target's invocation stream under the instance key.
type Invocation struct {
	Input   json.RawMessage `json:"input"`
	ReplyTo Address         `json:"reply_to"`
}

// Result is a finished computation's output, published to a reply address.
// Source names the workflow or service that produced it.
type Result struct {
	Source string          `json:"source"`
	Output json.RawMessage `json:"output"`
}

// StepRecord is one entry of an instance's step log.
// Index 0 holds the workflow input; index i > 0 holds the result of the
// i-th call made by the workflow function.
type StepRecord struct {
	Index  int             `json:"index"`
	Source string          `json:"source"`
	Value  json.RawMessage `json:"value"`
}

// CallIntent is an outbound call proposed by a replay attempt.
// The engine turns it into an Invocation on the target's stream.
type CallIntent struct {
	Index  int             `json:"index"`
	Target string          `json:"target"`
	Input  json.RawMessage `json:"input"`
}

// CompositeKey builds the results-stream key "{step}_{key}" under which a
// sub-call result for instance key is delivered.
func CompositeKey(step int, key string) string {
	return strconv.Itoa(step) + "_" + key
}

// ParseCompositeKey splits a results-stream key into step index and instance key.
// The instance key may itself contain underscores; only the first one separates.
// The step must be written as CompositeKey writes it: no sign, no leading zeros.
func ParseCompositeKey(s string) (int, string, error) {
	prefix, key, ok := strings.Cut(s, "_")
	if !ok || key == "" {
		return 0, "", fmt.Errorf("parse composite key %q: want {step}_{key}", s)
	}
	step, err := strconv.Atoi(prefix)
	if err != nil || step < 0 || strconv.Itoa(step) != prefix {
		return 0, "", fmt.Errorf("parse composite key %q: invalid step index %q", s, prefix)
	}
	return step, key, nil
}
