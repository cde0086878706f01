package domain

import (
	"strings"
	"time"
)

type Customer struct {
	ID               string
	FirstName        string
	LastName         string
	Email            string
	Mobile           string
	StripeCustomerID string
	CreatedAt        time.Time
}

func (c *Customer) FullName() string {
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}

// CardCapture is the stored card used for no-show and walkout charges.
type CardCapture struct {
	CustomerID       string
	StripeCustomerID string
	PaymentMethodID  string
	CapturedAt       time.Time
}
