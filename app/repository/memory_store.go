package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/text2rednote/rednotepay/app/models"
)

// memoryState is the data shared by a MemoryStore and its transactions.
type memoryState struct {
	orders      map[string]models.Order
	users       map[string]models.User
	history     []models.CreditHistory
	events      map[string]models.PaymentWebhookEvent
	nextOrderID uint
	nextEntryID uint
	nextEventID uint
}

func (st *memoryState) clone() *memoryState {
	cp := &memoryState{
		orders:      make(map[string]models.Order, len(st.orders)),
		users:       make(map[string]models.User, len(st.users)),
		history:     append([]models.CreditHistory(nil), st.history...),
		events:      make(map[string]models.PaymentWebhookEvent, len(st.events)),
		nextOrderID: st.nextOrderID,
		nextEntryID: st.nextEntryID,
		nextEventID: st.nextEventID,
	}
	for k, v := range st.orders {
		cp.orders[k] = v
	}
	for k, v := range st.users {
		cp.users[k] = v
	}
	for k, v := range st.events {
		cp.events[k] = v
	}
	return cp
}

// MemoryStore is a process-local Store used for local development and tests.
// A single mutex serializes every operation; a transaction holds it until fn
// returns and restores a snapshot when fn fails.
type MemoryStore struct {
	mu    *sync.Mutex
	state **memoryState
	inTx  bool
}

// NewMemoryStore creates an empty in-memory Store.
func NewMemoryStore() *MemoryStore {
	st := &memoryState{
		orders: make(map[string]models.Order),
		users:  make(map[string]models.User),
		events: make(map[string]models.PaymentWebhookEvent),
	}
	return &MemoryStore{mu: &sync.Mutex{}, state: &st}
}

func (s *MemoryStore) lock() func() {
	if s.inTx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *MemoryStore) data() *memoryState { return *s.state }

func (s *MemoryStore) Orders() OrderRepository { return memoryOrders{s} }
func (s *MemoryStore) Credits() CreditRepository { return memoryCredits{s} }
func (s *MemoryStore) WebhookEvents() WebhookEventRepository { return memoryEvents{s} }

func (s *MemoryStore) WithinTransaction(ctx context.Context, fn func(tx Store) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	unlock := s.lock()
	defer unlock()

	snapshot := s.data().clone()
	tx := &MemoryStore{mu: s.mu, state: s.state, inTx: true}
	if err := fn(tx); err != nil {
		*s.state = snapshot
		return err
	}
	return nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

type memoryOrders struct{ s *MemoryStore }

func (m memoryOrders) Create(ctx context.Context, order *models.Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	defer m.s.lock()()
	st := m.s.data()
	if _, ok := st.orders[order.ExternalOrderID]; ok {
		return ErrOrderExists
	}
	st.nextOrderID++
	now := time.Now()
	order.ID = st.nextOrderID
	order.CreatedAt = now
	order.UpdatedAt = now
	st.orders[order.ExternalOrderID] = *order
	return nil
}

func (m memoryOrders) GetByExternalOrderID(ctx context.Context, externalOrderID string) (*models.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	defer m.s.lock()()
	order, ok := m.s.data().orders[externalOrderID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return &order, nil
}

func (m memoryOrders) MarkPaid(ctx context.Context, externalOrderID, providerTransactionID string, paidAt time.Time) (*models.Order, error) {
	return m.transition(ctx, externalOrderID, models.OrderStatusPaid, func(o *models.Order) {
		if providerTransactionID != "" {
			txn := providerTransactionID
			o.ProviderTransactionID = &txn
		}
		t := paidAt
		o.PaidAt = &t
		o.UpdatedAt = paidAt
	})
}

func (m memoryOrders) MarkFailed(ctx context.Context, externalOrderID, reason string, failedAt time.Time) (*models.Order, error) {
	return m.transition(ctx, externalOrderID, models.OrderStatusFailed, func(o *models.Order) {
		o.FailureReason = truncate(reason, 255)
		t := failedAt
		o.FailedAt = &t
		o.UpdatedAt = failedAt
	})
}

func (m memoryOrders) transition(ctx context.Context, externalOrderID, target string, mutate func(o *models.Order)) (*models.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	defer m.s.lock()()
	st := m.s.data()
	order, ok := st.orders[externalOrderID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	if order.Status != models.OrderStatusPending {
		return &order, transitionError(order.Status, target)
	}
	order.Status = target
	mutate(&order)
	st.orders[externalOrderID] = order
	return &order, nil
}

func (m memoryOrders) SetProviderSession(ctx context.Context, externalOrderID, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	defer m.s.lock()()
	st := m.s.data()
	order, ok := st.orders[externalOrderID]
	if !ok {
		return ErrOrderNotFound
	}
	sid := sessionID
	order.ProviderSessionID = &sid
	st.orders[externalOrderID] = order
	return nil
}

func (m memoryOrders) ListPendingOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	defer m.s.lock()()
	var out []models.Order
	for _, o := range m.s.data().orders {
		if o.Status == models.OrderStatusPending && o.CreatedAt.Before(cutoff) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memoryCredits struct{ s *MemoryStore }

func (m memoryCredits) CreateUser(ctx context.Context, user *models.User, startingCredits int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if startingCredits < 0 {
		return false, ErrInvalidAmount
	}
	defer m.s.lock()()
	st := m.s.data()
	if _, ok := st.users[user.ID]; ok {
		return false, nil
	}
	now := time.Now()
	st.users[user.ID] = models.User{
		ID:        user.ID,
		Email:     models.NormalizeEmail(user.Email),
		Credits:   startingCredits,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if startingCredits > 0 {
		m.appendHistory(st, user.ID, startingCredits, models.CreditReasonSignupBonus, "", startingCredits)
	}
	return true, nil
}

func (m memoryCredits) GetUser(ctx context.Context, userID string) (*models.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	defer m.s.lock()()
	user, ok := m.s.data().users[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	return &user, nil
}

func (m memoryCredits) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	normalized := models.NormalizeEmail(email)
	if normalized == "" {
		return nil, ErrUserNotFound
	}
	defer m.s.lock()()
	var found *models.User
	for _, u := range m.s.data().users {
		if u.Email != normalized {
			continue
		}
		if found == nil || u.CreatedAt.Before(found.CreatedAt) {
			cp := u
			found = &cp
		}
	}
	if found == nil {
		return nil, ErrUserNotFound
	}
	return found, nil
}

func (m memoryCredits) GetBalance(ctx context.Context, userID string) (int64, error) {
	user, err := m.GetUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	return user.Credits, nil
}

func (m memoryCredits) Increment(ctx context.Context, userID string, amount int64, reason, reference string) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	return m.apply(ctx, userID, amount, reason, reference)
}

func (m memoryCredits) Decrement(ctx context.Context, userID string, amount int64, reason, reference string) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	return m.apply(ctx, userID, -amount, reason, reference)
}

func (m memoryCredits) apply(ctx context.Context, userID string, delta int64, reason, reference string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	defer m.s.lock()()
	st := m.s.data()
	user, ok := st.users[userID]
	if !ok {
		return 0, ErrUserNotFound
	}
	if user.Credits+delta < 0 {
		return 0, ErrInsufficientCredits
	}
	user.Credits += delta
	user.UpdatedAt = time.Now()
	st.users[userID] = user
	m.appendHistory(st, userID, delta, reason, reference, user.Credits)
	return user.Credits, nil
}

func (m memoryCredits) appendHistory(st *memoryState, userID string, delta int64, reason, reference string, balanceAfter int64) {
	st.nextEntryID++
	st.history = append(st.history, models.CreditHistory{
		ID:           st.nextEntryID,
		UserID:       userID,
		Amount:       delta,
		Reason:       reason,
		Reference:    truncate(reference, 128),
		BalanceAfter: balanceAfter,
		CreatedAt:    time.Now(),
	})
}

func (m memoryCredits) History(ctx context.Context, userID string, limit int) ([]models.CreditHistory, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	defer m.s.lock()()
	var out []models.CreditHistory
	history := m.s.data().history
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].UserID != userID {
			continue
		}
		out = append(out, history[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m memoryCredits) HistorySum(ctx context.Context, userID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	defer m.s.lock()()
	var sum int64
	for _, h := range m.s.data().history {
		if h.UserID == userID {
			sum += h.Amount
		}
	}
	return sum, nil
}

func (m memoryCredits) ListMismatches(ctx context.Context, limit int) ([]models.BalanceMismatch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	defer m.s.lock()()
	st := m.s.data()
	sums := make(map[string]int64, len(st.users))
	for _, h := range st.history {
		sums[h.UserID] += h.Amount
	}
	var out []models.BalanceMismatch
	for id, u := range st.users {
		if u.Credits != sums[id] {
			out = append(out, models.BalanceMismatch{UserID: id, Credits: u.Credits, HistorySum: sums[id]})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memoryEvents struct{ s *MemoryStore }

func (m memoryEvents) RecordDelivery(ctx context.Context, event *models.PaymentWebhookEvent) (*models.PaymentWebhookEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	defer m.s.lock()()
	st := m.s.data()
	key := event.Provider + "\x00" + event.ProviderEventID
	now := time.Now()
	if stored, ok := st.events[key]; ok {
		stored.Attempts++
		stored.SignatureValid = event.SignatureValid
		stored.UpdatedAt = now
		st.events[key] = stored
		return &stored, nil
	}
	st.nextEventID++
	stored := *event
	stored.ID = st.nextEventID
	if stored.Attempts == 0 {
		stored.Attempts = 1
	}
	stored.CreatedAt = now
	stored.UpdatedAt = now
	st.events[key] = stored
	return &stored, nil
}

func (m memoryEvents) MarkProcessed(ctx context.Context, id uint, outcome string, needsReview bool, processingError string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	defer m.s.lock()()
	st := m.s.data()
	for key, ev := range st.events {
		if ev.ID != id {
			continue
		}
		now := time.Now()
		ev.ProcessedAt = &now
		ev.Outcome = outcome
		ev.NeedsReview = needsReview
		ev.ProcessingError = processingError
		st.events[key] = ev
		return nil
	}
	return nil
}

func (m memoryEvents) CountNeedingReview(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	defer m.s.lock()()
	var count int64
	for _, ev := range m.s.data().events {
		if ev.NeedsReview {
			count++
		}
	}
	return count, nil
}

// WebhookEventsSnapshot returns a copy of the stored deliveries, ordered by id.
func (s *MemoryStore) WebhookEventsSnapshot() []models.PaymentWebhookEvent {
	defer s.lock()()
	out := make([]models.PaymentWebhookEvent, 0, len(s.data().events))
	for _, ev := range s.data().events {
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
