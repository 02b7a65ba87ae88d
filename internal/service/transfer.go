package service

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/punchamoorthee/chipledger/internal/domain"
	"github.com/punchamoorthee/chipledger/internal/store"
)

// Caller-side validation errors. Rejected before any store call, so a
// failing transfer has zero side effects.
var (
	ErrUnauthenticated  = errors.New("authentication required")
	ErrIdentityMismatch = errors.New("chips can only be sent from the caller's own balance")
	ErrInvalidAmount    = errors.New("amount must be a positive integer")
	ErrSelfTransfer     = errors.New("cannot transfer chips to yourself")
)

var transfersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "chipledger_transfers_total",
	Help: "Chip transfer attempts by outcome",
}, []string{"outcome"})

// TransferService validates transfer requests and hands them to the store's
// atomic transfer unit. It never retries: failures are reported verbatim and
// retry policy stays with the caller.
type TransferService struct {
	store store.Store
	log   *zap.Logger
}

func NewTransferService(s store.Store, log *zap.Logger) *TransferService {
	if log == nil {
		log = zap.NewNop()
	}
	return &TransferService{store: s, log: log}
}

// Transfer moves amount chips from the caller to another participant of the
// session. The caller must be the sender.
func (s *TransferService) Transfer(ctx context.Context, callerID, sessionID, fromUserID, toUserID string, amount int64) (*domain.TransferResult, error) {
	if callerID == "" {
		return nil, ErrUnauthenticated
	}
	if callerID != fromUserID {
		transfersTotal.WithLabelValues("rejected").Inc()
		return nil, ErrIdentityMismatch
	}
	if amount <= 0 {
		transfersTotal.WithLabelValues("rejected").Inc()
		return nil, ErrInvalidAmount
	}
	if fromUserID == toUserID {
		transfersTotal.WithLabelValues("rejected").Inc()
		return nil, ErrSelfTransfer
	}

	res, err := s.store.ExecTransfer(ctx, sessionID, fromUserID, toUserID, amount)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrInsufficientFunds),
			errors.Is(err, store.ErrNotParticipant),
			errors.Is(err, store.ErrSessionNotActive),
			errors.Is(err, store.ErrSessionNotFound):
			transfersTotal.WithLabelValues("rejected").Inc()
		default:
			transfersTotal.WithLabelValues("error").Inc()
		}
		return nil, err
	}

	transfersTotal.WithLabelValues("ok").Inc()
	s.log.Info("transfer executed",
		zap.String("session_id", sessionID),
		zap.String("from", fromUserID),
		zap.String("to", toUserID),
		zap.Int64("amount", amount),
		zap.Int64("from_balance", res.FromBalance),
		zap.Int64("to_balance", res.ToBalance))
	return res, nil
}
