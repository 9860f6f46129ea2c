package verify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// HTTPVerifier calls a remote verification endpoint.
type HTTPVerifier struct {
	Endpoint string
	http     *resty.Client
}

func NewHTTPVerifier(endpoint string, timeout time.Duration) *HTTPVerifier {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &HTTPVerifier{
		Endpoint: endpoint,
		http: resty.New().
			SetTimeout(timeout).
			SetHeader("Content-Type", "application/json").
			SetHeader("Accept", "application/json"),
	}
}

// WithAPIKey sends key in the X-API-Key header, for endpoints that sit
// behind a service key.
func (v *HTTPVerifier) WithAPIKey(key string) *HTTPVerifier {
	if key != "" {
		v.http.SetHeader("X-API-Key", key)
	}
	return v
}

func (v *HTTPVerifier) Verify(ctx context.Context, txRef, provider string) (Result, error) {
	var out Result
	resp, err := v.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"tx_ref": txRef, "provider": provider}).
		SetResult(&out).
		Post(v.Endpoint)
	if err != nil {
		return Result{}, fmt.Errorf("verification request: %w", err)
	}
	if resp.IsError() {
		return Result{Status: StatusFailed}, nil
	}
	switch out.Status {
	case StatusSuccess, StatusFailed, StatusPending:
		return out, nil
	default:
		return Result{}, fmt.Errorf("verification response has unknown status %q", out.Status)
	}
}
