// Package engine drives workflow definitions and leaf services over a
// durable queue backend.
//
// ARCHITECTURE:
//
// One Loop Per Definition:
// Each registered definition gets an Engine whose Run loop waits on two
// streams, the definition's invocations and its sub-call results, and
// processes the oldest visible item across both. An event (including the
// replay it triggers) is fully processed before the next one is taken.
//
// Event Processing Flow:
//  1. queue.WaitAny returns the oldest visible item without removing it
//  2. The step log is loaded and the workflow function is replayed
//  3. The outcome is committed in ONE backend transaction together with the
//     pop of the triggering item: publish the output, or persist the step
//     log and push the outbound calls
//
// Because the pop commits with the effects, a crash before commit leaves the
// item in place and it is delivered again; replay is idempotent and outbound
// calls are keyed by ir.CallKey, so redelivery never duplicates a call.
//
// Failures:
// A failed event stays in its stream. Transient failures are retried with
// exponential backoff; fatal ones (divergence, malformed events, bad input,
// step quota) are parked until an operator requeues them. The loop never
// exits because of an event failure.
//
// Services:
// A Worker consumes a service's invocation stream, runs the handler and
// publishes its result to the caller's reply address in the same
// transaction that pops the invocation.
//
// Runtime ties the pieces together: it registers definitions and services on
// one backend, runs every loop under an errgroup and offers Submit, Observe
// and Requeue.
package engine
