package flutterwave

import (
	"time"
)

// PaymentOptions lists the methods offered in the inline checkout widget.
const PaymentOptions = "card,banktransfer,ussd,mobilemoneyghana,gpay,apay,paypal,opay"

type CheckoutCustomer struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

type CheckoutCustomizations struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Logo        string `json:"logo"`
}

type CheckoutSubaccount struct {
	ID string `json:"id"`
}

// CheckoutMeta is echoed back by the gateway in webhooks and the dashboard.
type CheckoutMeta struct {
	UserID   uint    `json:"userId"`
	Plan     string  `json:"plan"`
	PlanName string  `json:"planName"`
	Price    float64 `json:"price"`
	Currency string  `json:"currency"`
	Datetime string  `json:"datetime"`
}

// CheckoutConfig is the argument object for FlutterwaveCheckout() in the
// browser. The callback and onclose hooks are attached client-side.
type CheckoutConfig struct {
	PublicKey      string                 `json:"public_key"`
	TxRef          string                 `json:"tx_ref"`
	Amount         float64                `json:"amount"`
	Currency       string                 `json:"currency"`
	PaymentOptions string                 `json:"payment_options"`
	Customer       CheckoutCustomer       `json:"customer"`
	Customizations CheckoutCustomizations `json:"customizations"`
	Meta           CheckoutMeta           `json:"meta"`
	Subaccounts    []CheckoutSubaccount   `json:"subaccounts,omitempty"`
}

// CheckoutInput carries the attempt-specific fields of a checkout.
type CheckoutInput struct {
	TxRef         string
	Amount        float64
	Currency      string
	CustomerEmail string
	CustomerName  string
	UserID        uint
	PlanPeriod    string
	PlanName      string
	PlanPrice     float64
	Title         string
	Logo          string
	CreatedAt     time.Time
}

// CheckoutConfig builds the widget payload with the client's public key and
// destination sub-account.
func (c *Client) CheckoutConfig(in CheckoutInput) CheckoutConfig {
	cfg := CheckoutConfig{
		PublicKey:      c.PublicKey,
		TxRef:          in.TxRef,
		Amount:         in.Amount,
		Currency:       in.Currency,
		PaymentOptions: PaymentOptions,
		Customer: CheckoutCustomer{
			Email: in.CustomerEmail,
			Name:  in.CustomerName,
		},
		Customizations: CheckoutCustomizations{
			Title:       in.Title,
			Description: "Subscribe to " + in.PlanName,
			Logo:        in.Logo,
		},
		Meta: CheckoutMeta{
			UserID:   in.UserID,
			Plan:     in.PlanPeriod,
			PlanName: in.PlanName,
			Price:    in.PlanPrice,
			Currency: in.Currency,
			Datetime: in.CreatedAt.Format("January 2, 2006 3:04 PM"),
		},
	}
	if c.SubaccountID != "" {
		cfg.Subaccounts = []CheckoutSubaccount{{ID: c.SubaccountID}}
	}
	return cfg
}
