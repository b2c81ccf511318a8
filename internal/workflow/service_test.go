package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/durable/internal/schema"
)

func TestService_Handle(t *testing.T) {
	svc := NewService("priceCalc", func(ctx context.Context, o order) (float64, error) {
		return o.Amount * 1.25, nil
	})

	out, err := svc.Handle(context.Background(), json.RawMessage(`{"amount":10}`))
	require.NoError(t, err)
	assert.Equal(t, `12.5`, string(out))
	assert.Equal(t, "priceCalc", svc.Name())
	assert.Equal(t, "priceCalc/invocations", svc.Streams().InvocationStream().Name())
}

func TestService_HandleErrors(t *testing.T) {
	boom := errors.New("upstream unavailable")
	svc := NewService("flaky", func(ctx context.Context, o order) (bool, error) {
		if o.Amount > 100 {
			panic("overflow")
		}
		return false, boom
	})

	_, err := svc.Handle(context.Background(), json.RawMessage(`{"amount":1}`))
	assert.ErrorIs(t, err, boom)

	_, err = svc.Handle(context.Background(), json.RawMessage(`{"amount":1000}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")

	_, err = svc.Handle(context.Background(), json.RawMessage(`[1,2]`))
	assert.ErrorIs(t, err, ErrBadInput)
}

func TestValidateInput_Schema(t *testing.T) {
	def := Define("checkout", checkout.fn, WithInputSchema(schema.MustCompile(`amount: number & >0`)))

	assert.NoError(t, def.ValidateInput(json.RawMessage(`{"amount":10}`)))
	assert.ErrorIs(t, def.ValidateInput(json.RawMessage(`{"amount":-5}`)), ErrBadInput)
	assert.ErrorIs(t, def.ValidateInput(json.RawMessage(`{"amount":10,"coupon":"x"}`)), ErrBadInput)
}

func TestStreams_Namespaced(t *testing.T) {
	s := checkout.Streams()
	assert.Equal(t, "checkout", s.Name())
	assert.Equal(t, "checkout/invocations", s.InvocationStream().Name())
	assert.Equal(t, "checkout/steplog", s.StepLog().Name())
	assert.Equal(t, "checkout/callbacks", s.Callbacks().Name())
	assert.Equal(t, "checkout/results", s.ResultsStream().Name())

	assert.NotEqual(t, s.StepLog().Name(), quote.Streams().StepLog().Name())
}
