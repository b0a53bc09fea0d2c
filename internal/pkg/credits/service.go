package credits

import (
	"context"
	"errors"
	"strings"
	"time"

	fiberlog "github.com/gofiber/fiber/v2/log"

	"github.com/text2rednote/rednotepay/app/models"
	"github.com/text2rednote/rednotepay/app/repository"
	"github.com/text2rednote/rednotepay/internal/pkg/metrics"
)

// ErrInvalidUser is returned for an empty user id.
var ErrInvalidUser = errors.New("user id is required")

// Service is the ledger facade used by HTTP handlers and jobs. Balance reads go
// through the cache; every write stores the new balance in it.
type Service struct {
	store           repository.Store
	cache           BalanceCache
	startingCredits int64
}

// NewService creates a ledger service. cache may be nil.
func NewService(store repository.Store, cache BalanceCache, startingCredits int64) *Service {
	if startingCredits < 0 {
		startingCredits = 0
	}
	return &Service{store: store, cache: cache, startingCredits: startingCredits}
}

// EnsureUser creates the ledger user with the signup grant the first time it
// is seen. It reports whether the user was created by this call.
func (s *Service) EnsureUser(ctx context.Context, userID, email string) (*models.User, bool, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, false, ErrInvalidUser
	}
	user, err := s.store.Credits().GetUser(ctx, userID)
	if err == nil {
		return user, false, nil
	}
	if !errors.Is(err, repository.ErrUserNotFound) {
		return nil, false, err
	}

	created, err := s.store.Credits().CreateUser(ctx, &models.User{ID: userID, Email: email}, s.startingCredits)
	if err != nil {
		return nil, false, err
	}
	if created {
		fiberlog.Infof("[Ledger] created user %s with %d signup credits", userID, s.startingCredits)
		metrics.Get().LedgerOpsTotal.WithLabelValues("signup", "ok").Inc()
	}
	user, err = s.store.Credits().GetUser(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	return user, created, nil
}

// Balance returns the user's credits, preferring the cache.
func (s *Service) Balance(ctx context.Context, userID string) (int64, error) {
	if s.cache != nil {
		balance, ok, err := s.cache.Get(ctx, userID)
		switch {
		case err != nil:
			metrics.Get().BalanceCacheTotal.WithLabelValues("error").Inc()
			fiberlog.Warnf("[Ledger] balance cache read failed for %s: %v", userID, err)
		case ok:
			metrics.Get().BalanceCacheTotal.WithLabelValues("hit").Inc()
			return balance, nil
		default:
			metrics.Get().BalanceCacheTotal.WithLabelValues("miss").Inc()
		}
	}

	balance, err := s.store.Credits().GetBalance(ctx, userID)
	if err != nil {
		return 0, err
	}
	if s.cache != nil {
		if err := s.cache.Fill(ctx, userID, balance); err != nil {
			fiberlog.Warnf("[Ledger] balance cache fill failed for %s: %v", userID, err)
		}
	}
	return balance, nil
}

// Grant adds credits outside of a payment, e.g. a support adjustment.
func (s *Service) Grant(ctx context.Context, userID string, amount int64, reason, reference string) (int64, error) {
	if reason == "" {
		reason = models.CreditReasonAdjustment
	}
	balance, err := s.store.Credits().Increment(ctx, userID, amount, reason, reference)
	s.observe("grant", err)
	if err != nil {
		return 0, err
	}
	s.Refresh(ctx, userID, balance)
	return balance, nil
}

// Spend removes credits for a generation. It fails with
// repository.ErrInsufficientCredits instead of going negative.
func (s *Service) Spend(ctx context.Context, userID string, amount int64, reference string) (int64, error) {
	balance, err := s.store.Credits().Decrement(ctx, userID, amount, models.CreditReasonGeneration, reference)
	s.observe("spend", err)
	if err != nil {
		return 0, err
	}
	s.Refresh(ctx, userID, balance)
	return balance, nil
}

func (s *Service) History(ctx context.Context, userID string, limit int) ([]models.CreditHistory, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.store.Credits().History(ctx, userID, limit)
}

// Refresh stores balance, the result of a committed ledger write, in the
// cache. When that fails the cached value is dropped instead. It still runs
// when ctx is done.
func (s *Service) Refresh(ctx context.Context, userID string, balance int64) {
	if s.cache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cacheTimeout)
	defer cancel()
	err := s.cache.Set(ctx, userID, balance)
	if err == nil {
		return
	}
	fiberlog.Warnf("[Ledger] balance cache refresh failed for %s: %v", userID, err)
	if err := s.cache.Delete(ctx, userID); err != nil {
		fiberlog.Warnf("[Ledger] balance cache invalidation failed for %s: %v", userID, err)
	}
}

func (s *Service) observe(op string, err error) {
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, repository.ErrInsufficientCredits):
		result = "insufficient"
	case errors.Is(err, repository.ErrUserNotFound):
		result = "unknown_user"
	default:
		result = "error"
	}
	metrics.Get().LedgerOpsTotal.WithLabelValues(op, result).Inc()
}

// AuditReport is the outcome of one ledger audit.
type AuditReport struct {
	Mismatches    []models.BalanceMismatch
	StalePending  []models.Order
	NeedingReview int64
	StartedAt     time.Time
	FinishedAt    time.Time
}

// Audit compares balances with history sums and lists pending orders created
// before pendingCutoff. Findings are reported, never corrected.
func (s *Service) Audit(ctx context.Context, pendingCutoff time.Time, limit int) (*AuditReport, error) {
	report := &AuditReport{StartedAt: time.Now()}
	m := metrics.Get()

	mismatches, err := s.store.Credits().ListMismatches(ctx, limit)
	if err != nil {
		m.AuditRunsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	report.Mismatches = mismatches

	pending, err := s.store.Orders().ListPendingOlderThan(ctx, pendingCutoff, limit)
	if err != nil {
		m.AuditRunsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	report.StalePending = pending

	review, err := s.store.WebhookEvents().CountNeedingReview(ctx)
	if err != nil {
		m.AuditRunsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	report.NeedingReview = review
	report.FinishedAt = time.Now()

	m.LedgerMismatches.Set(float64(len(mismatches)))
	m.StalePendingOrders.Set(float64(len(pending)))
	m.AuditRunsTotal.WithLabelValues("ok").Inc()

	for _, mm := range mismatches {
		fiberlog.Errorf("[Audit][REVIEW] user %s balance=%d history_sum=%d delta=%d", mm.UserID, mm.Credits, mm.HistorySum, mm.Delta())
	}
	for _, o := range pending {
		fiberlog.Warnf("[Audit] order %s (%s) pending since %s", o.ExternalOrderID, o.Provider, o.CreatedAt.Format(time.RFC3339))
	}
	fiberlog.Infof("[Audit] finished: mismatches=%d stale_pending=%d needs_review=%d", len(mismatches), len(pending), review)
	return report, nil
}
