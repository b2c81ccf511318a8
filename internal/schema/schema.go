// Package schema validates JSON payloads against CUE constraints.
//
// Definitions attach a schema to their input so malformed invocations are
// rejected at submit time instead of failing inside a replay:
//
//	s := schema.MustCompile(`amount: number & >0, sku: string`)
//	err := s.Validate([]byte(`{"amount": 10, "sku": "x"}`))
package schema

import (
	"fmt"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
)

// Error describes the first constraint a payload (or schema source) violates.
type Error struct {
	Path    string
	Message string
	Pos     token.Pos
}

func (e *Error) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%d:%d: %s", e.Pos.Line(), e.Pos.Column(), e.Message)
	}
	if e.Path != "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return e.Message
}

// Schema is a compiled CUE constraint.
//
// Thread-safety: Validate is safe for concurrent use. cue values share their
// runtime, so calls are serialized internally.
type Schema struct {
	mu     sync.Mutex
	ctx    *cue.Context
	value  cue.Value
	source string
}

// Compile parses src as CUE.
func Compile(src string) (*Schema, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(src)
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("compile schema: %w", formatCUEError(err, true))
	}
	return &Schema{ctx: ctx, value: v, source: src}, nil
}

// MustCompile is like Compile but panics on error.
// Intended for package-level definitions.
func MustCompile(src string) *Schema {
	s, err := Compile(src)
	if err != nil {
		panic(err)
	}
	return s
}

// Source returns the CUE text the schema was compiled from.
func (s *Schema) Source() string {
	return s.source
}

// Validate reports whether data (JSON) unifies with the schema into a
// concrete value.
func (s *Schema) Validate(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dv := s.ctx.CompileBytes(data)
	if err := dv.Err(); err != nil {
		return fmt.Errorf("parse payload: %w", formatCUEError(err, false))
	}

	u := s.value.Unify(dv)
	if err := u.Validate(cue.Concrete(true)); err != nil {
		return formatCUEError(err, false)
	}
	return nil
}

// formatCUEError keeps the first of CUE's errors with its path. Positions
// only make sense for errors in schema source, not in payloads.
func formatCUEError(err error, withPos bool) error {
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	first := errs[0]
	out := &Error{Message: first.Error()}
	if path := first.Path(); len(path) > 0 {
		out.Path = strings.Join(path, ".")
	}
	if withPos {
		if positions := errors.Positions(first); len(positions) > 0 {
			out.Pos = positions[0]
		}
	}
	return out
}
