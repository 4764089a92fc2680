package ledger

import (
	"errors"

	"github.com/stripe/stripe-go/v83"
	"github.com/stripe/stripe-go/v83/customer"
)

// PaymentChecker reports whether a user has a usable Stripe payment
// method on file, gating the auto-refill path in Transact.
type PaymentChecker interface {
	HasPaymentMethod(stripeCustomerID string) (bool, error)
}

// StripePaymentChecker is the production PaymentChecker, backed directly
// by the Stripe customer API.
type StripePaymentChecker struct{}

func NewStripePaymentChecker(secretKey string) *StripePaymentChecker {
	stripe.Key = secretKey
	return &StripePaymentChecker{}
}

func (StripePaymentChecker) HasPaymentMethod(stripeCustomerID string) (bool, error) {
	if stripeCustomerID == "" {
		return false, nil
	}
	cust, err := customer.Get(stripeCustomerID, nil)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode == 404 {
			return false, nil
		}
		return false, err
	}
	return cust.InvoiceSettings != nil && cust.InvoiceSettings.DefaultPaymentMethod != nil, nil
}
