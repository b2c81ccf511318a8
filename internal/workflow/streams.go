package workflow

import (
	"github.com/roach88/durable/internal/ir"
	"github.com/roach88/durable/internal/queue"
)

// Streams are the queues a definition owns, namespaced by its name so
// distinct definitions never share storage.
type Streams struct {
	name string
}

// StreamsFor returns the streams owned by the definition or service name.
func StreamsFor(name string) Streams {
	return Streams{name: name}
}

// Name returns the owning definition's name.
func (s Streams) Name() string { return s.name }

// InvocationStream holds pending invocations keyed by instance key.
func (s Streams) InvocationStream() queue.Public[ir.Invocation] {
	return queue.NewPublic[ir.Invocation](s.name + "/invocations")
}

// StepLog holds each suspended instance's step records.
func (s Streams) StepLog() queue.Log[ir.StepRecord] {
	return queue.NewLog[ir.StepRecord](s.name + "/steplog")
}

// Callbacks maps a suspended instance's key to its reply address.
func (s Streams) Callbacks() queue.Named[ir.Address] {
	return queue.NewNamed[ir.Address](s.name + "/callbacks")
}

// ResultsStream receives sub-call results under "{step}_{key}" keys.
func (s Streams) ResultsStream() queue.Public[ir.Result] {
	return queue.NewPublic[ir.Result](s.name + "/results")
}
