package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ticketsaga/internal/config"
	"ticketsaga/internal/database"
	apperrors "ticketsaga/internal/errors"
	"ticketsaga/internal/idempotency"
	"ticketsaga/internal/logger"
	"ticketsaga/internal/metrics"
	"ticketsaga/internal/models"
	"ticketsaga/internal/repository"
	"ticketsaga/internal/retry"
)

const PointResultPrefix = "point:result:"

// PointMutation is one ledger-backed balance change.
type PointMutation struct {
	UserID    int64
	RequestID string
	Type      models.PointTxType
	Amount    int64
}

// PointResult is the wallet state after a mutation.
type PointResult struct {
	UserID  int64                `json:"userId"`
	Balance int64                `json:"balance"`
	History *models.PointHistory `json:"history,omitempty"`
	// Applied is false when the request id was already in the ledger and
	// nothing changed.
	Applied bool `json:"-"`
}

type WalletService struct {
	store   repository.Store
	gateway *idempotency.Gateway
	policy  retry.Policy
	now     func() time.Time
}

func NewWalletService(store repository.Store, gateway *idempotency.Gateway, cfg config.WalletConfig) *WalletService {
	return &WalletService{
		store:   store,
		gateway: gateway,
		policy:  NewWalletRetryPolicy(cfg),
		now:     time.Now,
	}
}

// NewWalletRetryPolicy retries lock timeouts and deadlocks on the wallet row.
func NewWalletRetryPolicy(cfg config.WalletConfig) retry.Policy {
	return retry.Policy{
		MaxAttempts: cfg.RetryAttempts,
		Delay:       cfg.RetryDelay,
		Backoff:     2,
		Retryable:   database.IsRetryable,
		OnRetry: func(attempt int, err error) {
			metrics.WalletLockRetries.Inc()
		},
	}
}

// RetryPolicy exposes the contention policy so saga handlers wrap their own
// transactions the same way.
func (s *WalletService) RetryPolicy() retry.Policy {
	return s.policy
}

// ApplyTx locks the wallet and applies m inside the caller's transaction.
// A (type, request id) pair already in the ledger is answered from the ledger
// row. Reusing it with another amount is rejected.
func (s *WalletService) ApplyTx(ctx context.Context, repos *repository.Repositories, m PointMutation) (*PointResult, error) {
	if m.UserID <= 0 {
		return nil, fmt.Errorf("%w: user id is required", apperrors.ErrInvalidArgument)
	}
	if m.RequestID == "" {
		return nil, fmt.Errorf("%w: request id is required", apperrors.ErrInvalidArgument)
	}
	if err := models.ValidatePointAmount(m.Type, m.Amount); err != nil {
		return nil, err
	}

	now := s.now()
	point, err := repos.Points.GetForUpdate(ctx, m.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock wallet %d: %w", m.UserID, err)
	}
	if point == nil {
		if m.Type == models.PointUse {
			return nil, fmt.Errorf("%w: user %d has no wallet", apperrors.ErrInsufficientBalance, m.UserID)
		}
		if err := repos.Points.Create(ctx, m.UserID, now); err != nil {
			return nil, err
		}
		if point, err = repos.Points.GetForUpdate(ctx, m.UserID); err != nil {
			return nil, fmt.Errorf("failed to lock wallet %d: %w", m.UserID, err)
		}
		if point == nil {
			return nil, fmt.Errorf("wallet %d missing after create", m.UserID)
		}
	}

	existing, err := repos.Points.GetHistory(ctx, m.UserID, m.Type, m.RequestID)
	if err != nil {
		return nil, fmt.Errorf("failed to read point history: %w", err)
	}
	if existing != nil {
		return replayedAs(existing, m)
	}

	h, err := point.Apply(m.Type, m.Amount, m.RequestID, now)
	if err != nil {
		return nil, err
	}
	if err := repos.Points.Update(ctx, point); err != nil {
		return nil, err
	}
	if err := repos.Points.InsertHistory(ctx, h); err != nil {
		return nil, err
	}

	return &PointResult{UserID: m.UserID, Balance: point.Balance, History: h, Applied: true}, nil
}

func replayed(h *models.PointHistory) *PointResult {
	return &PointResult{UserID: h.UserID, Balance: h.BalanceAfter, History: h}
}

// ledgerAmount is the unsigned amount of a ledger row; debits are stored negative.
func ledgerAmount(h *models.PointHistory) int64 {
	if h.Amount < 0 {
		return -h.Amount
	}
	return h.Amount
}

func replayedAs(h *models.PointHistory, m PointMutation) (*PointResult, error) {
	if ledgerAmount(h) != m.Amount {
		return nil, fmt.Errorf("%w: request id %q was already used for a %s of %d",
			apperrors.ErrInvalidArgument, m.RequestID, h.Type, ledgerAmount(h))
	}
	return replayed(h), nil
}

// inTx runs fn in a transaction under the wallet retry policy. Exhausted
// retries surface as ErrTooManyRequests.
func (s *WalletService) inTx(ctx context.Context, fn func(repos *repository.Repositories) error) error {
	err := s.policy.Do(ctx, func(ctx context.Context) error {
		return s.store.InTx(ctx, fn)
	})
	if errors.Is(err, retry.ErrExhausted) {
		return fmt.Errorf("%w: %w", apperrors.ErrTooManyRequests, err)
	}
	return err
}

func (s *WalletService) mutate(ctx context.Context, m PointMutation) (*PointResult, error) {
	var res *PointResult
	err := s.inTx(ctx, func(repos *repository.Repositories) error {
		r, err := s.ApplyTx(ctx, repos, m)
		if err != nil {
			return err
		}
		res = r
		return nil
	})
	if err == nil {
		return res, nil
	}

	// A concurrent transaction inserted the same ledger row first.
	if database.IsUniqueViolation(err) {
		h, lookupErr := s.store.Repos().Points.GetHistory(ctx, m.UserID, m.Type, m.RequestID)
		if lookupErr == nil && h != nil {
			return replayedAs(h, m)
		}
	}
	return nil, err
}

// Use debits amount. Amounts must be multiples of models.MinUseUnit.
func (s *WalletService) Use(ctx context.Context, userID int64, requestID string, amount int64) (*PointResult, error) {
	return s.mutate(ctx, PointMutation{UserID: userID, RequestID: requestID, Type: models.PointUse, Amount: amount})
}

// Refund credits amount back.
func (s *WalletService) Refund(ctx context.Context, userID int64, requestID string, amount int64) (*PointResult, error) {
	return s.mutate(ctx, PointMutation{UserID: userID, RequestID: requestID, Type: models.PointRefund, Amount: amount})
}

// Charge tops the wallet up through the idempotent gateway, serialized per user.
func (s *WalletService) Charge(ctx context.Context, userID int64, req models.ChargePointRequest) (*PointResult, error) {
	m := PointMutation{UserID: userID, RequestID: req.RequestID, Type: models.PointCharge, Amount: req.Amount}
	if userID <= 0 {
		return nil, apperrors.ErrUnauthorized
	}
	if m.RequestID == "" {
		return nil, fmt.Errorf("%w: request id is required", apperrors.ErrInvalidArgument)
	}
	if err := models.ValidatePointAmount(m.Type, m.Amount); err != nil {
		return nil, err
	}

	return idempotency.Execute(ctx, s.gateway, idempotency.Request[PointResult]{
		Operation: "point_charge",
		CacheKey:  PointResultPrefix + req.RequestID,
		LockKey:   fmt.Sprintf("point:user:%d", userID),
		Lookup: func(ctx context.Context) (*PointResult, error) {
			return s.lookupCharge(ctx, m)
		},
		Accept: func(r *PointResult) bool {
			return r.UserID == userID && r.History != nil && ledgerAmount(r.History) == m.Amount
		},
		Run: func(ctx context.Context) (*PointResult, error) {
			return s.charge(ctx, m)
		},
	})
}

func (s *WalletService) lookupCharge(ctx context.Context, m PointMutation) (*PointResult, error) {
	repos := s.store.Repos()
	key, err := repos.Idempotency.Get(ctx, m.RequestID, m.UserID, models.ResourcePointCharge)
	if err != nil || key == nil {
		return nil, err
	}
	h, err := repos.Points.GetHistory(ctx, m.UserID, models.PointCharge, m.RequestID)
	if err != nil || h == nil {
		return nil, err
	}
	return replayedAs(h, m)
}

func (s *WalletService) charge(ctx context.Context, m PointMutation) (*PointResult, error) {
	var res *PointResult
	err := s.inTx(ctx, func(repos *repository.Repositories) error {
		r, err := s.ApplyTx(ctx, repos, m)
		if err != nil {
			return err
		}
		if r.Applied {
			key := &models.IdempotencyKey{
				RequestID:    m.RequestID,
				UserID:       m.UserID,
				ResourceType: models.ResourcePointCharge,
				ResourceID:   r.History.ID,
				CreatedAt:    s.now(),
			}
			if err := repos.Idempotency.Insert(ctx, key); err != nil {
				return err
			}
		}
		res = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	if res.Applied {
		logger.WithContext(ctx).Info("Points charged", "user_id", m.UserID, "amount", m.Amount, "balance", res.Balance)
	}
	return res, nil
}

// Balance returns 0 for a user without a wallet.
func (s *WalletService) Balance(ctx context.Context, userID int64) (int64, error) {
	p, err := s.store.Repos().Points.Get(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to get wallet: %w", err)
	}
	if p == nil {
		return 0, nil
	}
	return p.Balance, nil
}

// History returns the newest ledger rows first.
func (s *WalletService) History(ctx context.Context, userID int64, limit int) ([]models.PointHistory, error) {
	if limit <= 0 || limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	rows, err := s.store.Repos().Points.ListHistory(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list point history: %w", err)
	}
	return rows, nil
}

const maxHistoryLimit = 100
