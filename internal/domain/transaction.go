package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Accepted layouts for transaction_date, tried in order.
var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// Transaction is a single payment submitted for scoring.
// It is never mutated after ingestion.
type Transaction struct {
	ID          string              `json:"transaction_id"`
	Date        string              `json:"transaction_date,omitempty"`
	Amount      decimal.NullDecimal `json:"transaction_amount"`
	Channel     string              `json:"transaction_channel"`
	PaymentMode string              `json:"transaction_payment_mode"`
	GatewayBank string              `json:"payment_gateway_bank,omitempty"`
	PayerEmail  string              `json:"payer_email,omitempty"`
	PayerMobile string              `json:"payer_mobile,omitempty"`
	CardBrand   string              `json:"payer_card_brand,omitempty"`
	PayerDevice string              `json:"payer_device,omitempty"`
	Browser     string              `json:"payer_browser,omitempty"`
	PayeeID     string              `json:"payee_id"`
}

// Validate checks required fields and the date format.
func (t *Transaction) Validate() error {
	var missing []string
	if strings.TrimSpace(t.ID) == "" {
		missing = append(missing, "transaction_id")
	}
	if !t.Amount.Valid {
		missing = append(missing, "transaction_amount")
	}
	if strings.TrimSpace(t.Channel) == "" {
		missing = append(missing, "transaction_channel")
	}
	if strings.TrimSpace(t.PaymentMode) == "" {
		missing = append(missing, "transaction_payment_mode")
	}
	if strings.TrimSpace(t.PayeeID) == "" {
		missing = append(missing, "payee_id")
	}
	if len(missing) > 0 {
		return &ValidationError{Fields: missing, Reason: "required field missing"}
	}

	if t.Date != "" {
		if _, err := ParseDate(t.Date); err != nil {
			return &ValidationError{Fields: []string{"transaction_date"}, Reason: err.Error()}
		}
	}
	return nil
}

// Time returns the parsed transaction_date. ok is false when the date is
// absent or unparseable.
func (t *Transaction) Time() (time.Time, bool) {
	if t.Date == "" {
		return time.Time{}, false
	}
	ts, err := ParseDate(t.Date)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

// Facts flattens the transaction into the fact map rules are evaluated
// against. Empty optional fields are omitted so that they read as missing.
func (t *Transaction) Facts() map[string]any {
	facts := make(map[string]any, 12)
	put := func(name, v string) {
		if v != "" {
			facts[name] = v
		}
	}
	put("transaction_id", t.ID)
	put("transaction_date", t.Date)
	put("transaction_channel", t.Channel)
	put("transaction_payment_mode", t.PaymentMode)
	put("payment_gateway_bank", t.GatewayBank)
	put("payer_email", t.PayerEmail)
	put("payer_mobile", t.PayerMobile)
	put("payer_card_brand", t.CardBrand)
	put("payer_device", t.PayerDevice)
	put("payer_browser", t.Browser)
	put("payee_id", t.PayeeID)
	if t.Amount.Valid {
		facts["transaction_amount"] = t.Amount.Decimal
	}
	return facts
}

// ParseDate parses a transaction date in any accepted layout.
func ParseDate(s string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}
