package verify

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2/log"

	"github.com/wrldarena/arena/internal/pkg/flutterwave"
)

// TransactionFinder is the slice of the gateway client the service needs.
type TransactionFinder interface {
	FindTransaction(ctx context.Context, txRef string) (*flutterwave.Transaction, bool, error)
}

// Service answers verification requests by asking the gateway for the
// transaction carrying the client reference.
type Service struct {
	gateway TransactionFinder
}

func NewService(gateway TransactionFinder) *Service {
	return &Service{gateway: gateway}
}

// Verify maps the gateway transaction status onto success, failed or
// pending. Request and upstream problems are returned as sentinel errors so
// the HTTP layer can choose a status code.
func (s *Service) Verify(ctx context.Context, txRef, provider string) (Result, error) {
	txRef = strings.TrimSpace(txRef)
	if txRef == "" {
		return Result{Status: StatusFailed, Message: ErrMissingTxRef.Error()}, ErrMissingTxRef
	}
	if strings.ToLower(strings.TrimSpace(provider)) != ProviderFlutterwave {
		return Result{Status: StatusFailed, Message: ErrUnsupportedProvider.Error()}, ErrUnsupportedProvider
	}

	tx, found, err := s.gateway.FindTransaction(ctx, txRef)
	if err != nil {
		if errors.Is(err, flutterwave.ErrNotConfigured) {
			log.Error("[Verify] Flutterwave secret key not configured")
			return Result{Status: StatusFailed, Message: ErrProviderNotConfigured.Error()}, ErrProviderNotConfigured
		}
		log.Errorf("[Verify] Transactions fetch failed for %s: %v", txRef, err)
		return Result{Status: StatusFailed, Message: ErrUpstream.Error()}, ErrUpstream
	}
	if !found {
		return Result{Status: StatusFailed, Message: ErrTransactionNotFound.Error()}, ErrTransactionNotFound
	}

	data := &Transaction{
		ID:       tx.ID,
		TxRef:    tx.TxRef,
		Status:   tx.Status,
		Amount:   tx.Amount,
		Currency: tx.Currency,
	}
	switch tx.Status {
	case flutterwave.StatusSuccessful:
		return Result{Status: StatusSuccess, Message: "Payment verified successfully", Data: data}, nil
	case flutterwave.StatusFailed:
		return Result{Status: StatusFailed, Message: "Payment failed", Data: data}, nil
	default:
		return Result{Status: StatusPending, Message: "Payment is still pending", Data: data}, nil
	}
}

// LocalVerifier runs the service in-process with the same contract as the
// HTTP endpoint: every request-level error becomes a failed result.
type LocalVerifier struct {
	Service *Service
}

func (v LocalVerifier) Verify(ctx context.Context, txRef, provider string) (Result, error) {
	res, err := v.Service.Verify(ctx, txRef, provider)
	if err != nil {
		return Result{Status: StatusFailed, Message: res.Message}, nil
	}
	return res, nil
}
