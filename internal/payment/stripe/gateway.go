// Package stripe implements payment.Gateway with Stripe Checkout Sessions.
package stripe

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"go.uber.org/zap"

	"github.com/xenking/bazaar/internal/domain/fault"
	"github.com/xenking/bazaar/internal/domain/payment"
)

var _ payment.Gateway = (*Gateway)(nil)

type sessionAPI interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// Config configures the Gateway.
type Config struct {
	APIKey     string
	Currency   string `default:"usd"`
	SuccessURL string
	CancelURL  string
	// MaxNetworkRetries is handed to the Stripe client, which retries
	// idempotent failures with backoff.
	MaxNetworkRetries int64 `default:"2"`
}

// Gateway creates Checkout Sessions for order payments.
type Gateway struct {
	sessions   sessionAPI
	currency   string
	successURL string
	cancelURL  string
}

// New constructs a Gateway from cfg.
func New(cfg Config) (*Gateway, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("stripe: api key is required")
	}
	backends := stripe.NewBackendsWithConfig(&stripe.BackendConfig{
		MaxNetworkRetries: stripe.Int64(cfg.MaxNetworkRetries),
	})
	sc := client.New(apiKey, backends)
	return newGateway(sc.CheckoutSessions, cfg)
}

func newGateway(sessions sessionAPI, cfg Config) (*Gateway, error) {
	if cfg.SuccessURL == "" || cfg.CancelURL == "" {
		return nil, errors.New("stripe: success and cancel urls are required")
	}
	currency := strings.ToLower(strings.TrimSpace(cfg.Currency))
	if currency == "" {
		currency = "usd"
	}
	return &Gateway{
		sessions:   sessions,
		currency:   currency,
		successURL: cfg.SuccessURL,
		cancelURL:  cfg.CancelURL,
	}, nil
}

// CreateIntent creates a one-line Checkout Session for amount. The session id
// is the external id and its hosted page is the approval URL.
func (g *Gateway) CreateIntent(ctx context.Context, amount decimal.Decimal) (payment.Intent, error) {
	minor := amount.Shift(2).Round(0).IntPart()
	if minor <= 0 {
		return payment.Intent{}, fault.InvalidInput("amount %s cannot be paid externally", amount.StringFixed(2))
	}

	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(g.successURL),
		CancelURL:  stripe.String(g.cancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Quantity: stripe.Int64(1),
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(g.currency),
					UnitAmount: stripe.Int64(minor),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String("Order"),
					},
				},
			},
		},
	}
	params.Context = ctx

	session, err := g.sessions.New(params)
	if err != nil {
		return payment.Intent{}, fault.External(err, "stripe: create checkout session")
	}

	zctx.From(ctx).Debug("Checkout session created",
		zap.String("session_id", session.ID),
		zap.Int64("amount", minor),
		zap.String("currency", g.currency),
	)

	return payment.Intent{
		ExternalID:  session.ID,
		ApprovalURL: session.URL,
	}, nil
}
