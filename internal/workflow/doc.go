// Package workflow is the replay side of durable execution.
//
// A workflow is an ordinary Go function that reaches other computations only
// through Call and All:
//
//	var Checkout = workflow.Define("checkout",
//		func(wc *workflow.Context, o Order) (bool, error) {
//			total, err := workflow.Call(wc, PriceCalc, o)
//			if err != nil {
//				return false, err
//			}
//			return workflow.Call(wc, RiskCheck, total)
//		})
//
// Each attempt runs the function from the top against the instance's step
// log. Calls whose results are already recorded return them immediately.
// The first call past the recorded frontier records a CallIntent and returns
// ErrSuspended; the attempt's Outcome is then Suspended and the engine
// schedules the call. When its result is appended to the log the function
// runs again and gets one step further.
//
// # Determinism
//
// The function must issue the same calls in the same order on every attempt.
// A recorded result whose producer or shape disagrees with the call now being
// made is reported as a *DivergenceError and is never coerced.
//
// Functions must not do I/O directly. Side effects belong in a Service, which
// the workflow calls like any other target.
package workflow
