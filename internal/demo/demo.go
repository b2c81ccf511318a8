// Package demo holds the sample workflows served by "durable run".
//
// checkout prices an order and asks a risk check whether to approve it:
//
//	total    = call(priceCalc, order)
//	approved = call(riskCheck, total)
//
// quote fans out to two services at once and sums their answers.
package demo

import (
	"context"

	"github.com/roach88/durable/internal/engine"
	"github.com/roach88/durable/internal/schema"
	"github.com/roach88/durable/internal/workflow"
)

// Order is the input of checkout and priceCalc.
type Order struct {
	Amount float64 `json:"amount"`
}

// Quote is the output of quote.
type Quote struct {
	Subtotal float64 `json:"subtotal"`
	Tax      float64 `json:"tax"`
	Shipping float64 `json:"shipping"`
	Total    float64 `json:"total"`
}

// RiskLimit is the highest total riskCheck still approves, exclusive.
const RiskLimit = 100

// FreeShippingFrom is the subtotal from which shipQuote charges nothing.
const FreeShippingFrom = 50

var orderSchema = schema.MustCompile(`amount: number & >0`)

var (
	PriceCalc = workflow.NewService("priceCalc", func(ctx context.Context, o Order) (float64, error) {
		return o.Amount * 1.25, nil
	}, workflow.WithInputSchema(orderSchema))

	RiskCheck = workflow.NewService("riskCheck", func(ctx context.Context, total float64) (bool, error) {
		return total < RiskLimit, nil
	})

	TaxQuote = workflow.NewService("taxQuote", func(ctx context.Context, subtotal float64) (float64, error) {
		return subtotal * 0.2, nil
	})

	ShipQuote = workflow.NewService("shipQuote", func(ctx context.Context, subtotal float64) (float64, error) {
		if subtotal >= FreeShippingFrom {
			return 0, nil
		}
		return 5, nil
	})
)

var (
	Checkout = workflow.Define("checkout", func(wc *workflow.Context, o Order) (bool, error) {
		total, err := workflow.Call(wc, PriceCalc, o)
		if err != nil {
			return false, err
		}
		return workflow.Call(wc, RiskCheck, total)
	}, workflow.WithInputSchema(orderSchema))

	QuoteFlow = workflow.Define("quote", func(wc *workflow.Context, subtotal float64) (Quote, error) {
		tax := workflow.Async(TaxQuote, subtotal)
		ship := workflow.Async(ShipQuote, subtotal)
		if err := workflow.All(wc, tax, ship); err != nil {
			return Quote{}, err
		}
		return Quote{
			Subtotal: subtotal,
			Tax:      tax.Value(),
			Shipping: ship.Value(),
			Total:    subtotal + tax.Value() + ship.Value(),
		}, nil
	})
)

// Register adds the demo workflows and the services they call to rt.
func Register(rt *engine.Runtime) error {
	if err := rt.Register(Checkout, QuoteFlow); err != nil {
		return err
	}
	return rt.RegisterService(PriceCalc, RiskCheck, TaxQuote, ShipQuote)
}
