package flutterwave

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
)

// EventChargeCompleted is the webhook event fired when a charge settles or fails.
const EventChargeCompleted = "charge.completed"

// WebhookEvent is the normalized subset of a Flutterwave webhook.
type WebhookEvent struct {
	Event         string
	TransactionID string
	TxRef         string
	Status        string
	Amount        float64
	Currency      string
	UserID        uint
	Plan          string
}

// VerifyWebhookSignature compares the verif-hash header with the configured
// secret hash.
func VerifyWebhookSignature(header, secretHash string) bool {
	got := strings.TrimSpace(header)
	want := strings.TrimSpace(secretHash)
	if got == "" || want == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// ParseWebhookEvent decodes a webhook body. Meta may arrive either on
// data.meta or on the top-level meta_data object depending on the payment
// method, so both are read.
func ParseWebhookEvent(payload []byte) (*WebhookEvent, error) {
	type rawPayload struct {
		Event string `json:"event"`
		Data  struct {
			ID       json.Number    `json:"id"`
			TxRef    string         `json:"tx_ref"`
			Status   string         `json:"status"`
			Amount   float64        `json:"amount"`
			Currency string         `json:"currency"`
			Meta     map[string]any `json:"meta"`
		} `json:"data"`
		MetaData map[string]any `json:"meta_data"`
	}

	var raw rawPayload
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, err
	}

	out := &WebhookEvent{
		Event:         strings.TrimSpace(raw.Event),
		TransactionID: strings.TrimSpace(raw.Data.ID.String()),
		TxRef:         strings.TrimSpace(raw.Data.TxRef),
		Status:        strings.ToLower(strings.TrimSpace(raw.Data.Status)),
		Amount:        raw.Data.Amount,
		Currency:      strings.TrimSpace(raw.Data.Currency),
	}
	for _, meta := range []map[string]any{raw.Data.Meta, raw.MetaData} {
		if out.UserID == 0 {
			out.UserID = metaUint(meta, "userId")
		}
		if out.Plan == "" {
			out.Plan = metaString(meta, "plan")
		}
	}

	if out.TxRef == "" {
		return nil, errors.New("flutterwave webhook payload missing tx_ref")
	}
	if out.TransactionID == "" {
		return nil, errors.New("flutterwave webhook payload missing transaction id")
	}
	return out, nil
}

func metaString(meta map[string]any, key string) string {
	switch v := meta[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

func metaUint(meta map[string]any, key string) uint {
	s := metaString(meta, key)
	if s == "" {
		return 0
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0
	}
	return uint(v)
}
