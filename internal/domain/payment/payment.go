package payment

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/bazaar/internal/domain/fault"
)

// Method is how the buyer pays for an order.
type Method string

const (
	// MethodCOD is cash on delivery; no gateway call is made.
	MethodCOD Method = "COD"
	// MethodExternal redirects the buyer to the payment gateway.
	MethodExternal Method = "EXTERNAL"
)

// ParseMethod converts s into a Method.
func ParseMethod(s string) (Method, bool) {
	switch m := Method(s); m {
	case MethodCOD, MethodExternal:
		return m, true
	}
	return "", false
}

// Intent is a payment created at the external provider.
type Intent struct {
	ExternalID  string
	ApprovalURL string
}

// Gateway creates payment intents at an external provider. Implementations
// translate every provider failure into a fault.External error; retries, if
// any, happen inside the implementation.
type Gateway interface {
	CreateIntent(ctx context.Context, amount decimal.Decimal) (Intent, error)
}

// Unavailable is the Gateway used when no provider is configured. Every
// EXTERNAL order fails with a fault.External error and is rolled back.
type Unavailable struct{}

// CreateIntent always fails.
func (Unavailable) CreateIntent(context.Context, decimal.Decimal) (Intent, error) {
	return Intent{}, fault.External(errors.New("no payment provider configured"), "payment gateway")
}
