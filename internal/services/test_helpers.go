package services

import (
	"context"
	"io"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/BradenHooton/tradergate/internal/models"
	"github.com/BradenHooton/tradergate/internal/repositories"
	pkglogger "github.com/BradenHooton/tradergate/pkg/logger"
	"github.com/aws/aws-sdk-go-v2/service/ses"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func discardAudit() *pkglogger.AuditLogger {
	return pkglogger.NewAuditLogger(discardLogger())
}

// MockUserRepository serves users from an in-memory map unless a Func overrides it.
type MockUserRepository struct {
	mu                 sync.Mutex
	Users              map[string]*models.User
	GetByIDFunc        func(ctx context.Context, id string) (*models.User, error)
	GetByUsernameFunc  func(ctx context.Context, username string) (*models.User, error)
	ListByRoleFunc     func(ctx context.Context, role string) ([]*models.User, error)
	UpdatePasswordFunc func(ctx context.Context, id, passwordHash string) error
	SetTOTPFunc        func(ctx context.Context, id, secret string, enabled bool) error
}

func NewMockUserRepository(users ...*models.User) *MockUserRepository {
	m := &MockUserRepository{Users: make(map[string]*models.User)}
	for _, u := range users {
		m.Users[u.ID] = u
	}
	return m
}

func (m *MockUserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.Users[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *MockUserRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	if m.GetByUsernameFunc != nil {
		return m.GetByUsernameFunc(ctx, username)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.Users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) ListByRole(ctx context.Context, role string) ([]*models.User, error) {
	if m.ListByRoleFunc != nil {
		return m.ListByRoleFunc(ctx, role)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.User
	for _, u := range m.Users {
		if u.Role == role && u.IsActive {
			cp := *u
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MockUserRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	if m.UpdatePasswordFunc != nil {
		return m.UpdatePasswordFunc(ctx, id, passwordHash)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.Users[id]
	if !ok {
		return models.ErrNotFound
	}
	u.PasswordHash = passwordHash
	return nil
}

func (m *MockUserRepository) SetTOTP(ctx context.Context, id, secret string, enabled bool) error {
	if m.SetTOTPFunc != nil {
		return m.SetTOTPFunc(ctx, id, secret, enabled)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.Users[id]
	if !ok {
		return models.ErrNotFound
	}
	u.TOTPSecret = secret
	u.TOTPEnabled = enabled
	return nil
}

// fakeBilling is an in-memory BillingRepository. WithTx snapshots both
// tables and restores them if fn fails, and serializes transactions.
type fakeBilling struct {
	txMu     sync.Mutex
	mu       sync.Mutex
	subs     map[string]*models.Subscription
	payments map[string]*models.Payment
	methods  map[string]*models.PaymentMethod

	// fault injection
	updateReviewErr error
	markExpiredErr  map[string]error
}

func newFakeBilling() *fakeBilling {
	return &fakeBilling{
		subs:     make(map[string]*models.Subscription),
		payments: make(map[string]*models.Payment),
		methods:  make(map[string]*models.PaymentMethod),
	}
}

func (f *fakeBilling) Subscriptions() repositories.SubscriptionRepository { return fakeSubs{f} }
func (f *fakeBilling) Payments() repositories.PaymentRepository           { return fakePayments{f} }
func (f *fakeBilling) Methods() repositories.PaymentMethodRepository      { return fakeMethods{f} }

func (f *fakeBilling) WithTx(ctx context.Context, fn func(repositories.BillingRepository) error) error {
	f.txMu.Lock()
	defer f.txMu.Unlock()

	f.mu.Lock()
	subs := make(map[string]*models.Subscription, len(f.subs))
	for k, v := range f.subs {
		cp := *v
		subs[k] = &cp
	}
	payments := make(map[string]*models.Payment, len(f.payments))
	for k, v := range f.payments {
		cp := *v
		payments[k] = &cp
	}
	f.mu.Unlock()

	if err := fn(f); err != nil {
		f.mu.Lock()
		f.subs, f.payments = subs, payments
		f.mu.Unlock()
		return err
	}
	return nil
}

func (f *fakeBilling) addSubscription(sub *models.Subscription) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *sub
	f.subs[sub.ID] = &cp
}

func (f *fakeBilling) addPayment(p *models.Payment) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *p
	f.payments[p.ID] = &cp
}

func (f *fakeBilling) addMethod(m *models.PaymentMethod) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *m
	f.methods[m.ID] = &cp
}

func (f *fakeBilling) subscription(id string) *models.Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.subs[id]; ok {
		cp := *s
		return &cp
	}
	return nil
}

func (f *fakeBilling) payment(id string) *models.Payment {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.payments[id]; ok {
		cp := *p
		return &cp
	}
	return nil
}

func (f *fakeBilling) subscriptionCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

type fakeSubs struct{ f *fakeBilling }

func (r fakeSubs) userSubs(userID string) []*models.Subscription {
	var out []*models.Subscription
	for _, s := range r.f.subs {
		if s.UserID == userID {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EndDate.After(out[j].EndDate) })
	return out
}

func (r fakeSubs) GetLatestByUser(ctx context.Context, userID string) (*models.Subscription, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	subs := r.userSubs(userID)
	if len(subs) == 0 {
		return nil, models.ErrNotFound
	}
	return subs[0], nil
}

func (r fakeSubs) Create(ctx context.Context, sub *models.Subscription) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	if _, ok := r.f.subs[sub.ID]; ok {
		return models.ErrConflict
	}
	cp := *sub
	r.f.subs[sub.ID] = &cp
	return nil
}

func (r fakeSubs) ListByUser(ctx context.Context, userID string) ([]*models.Subscription, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	return r.userSubs(userID), nil
}

func (r fakeSubs) ListActive(ctx context.Context) ([]*models.Subscription, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	var out []*models.Subscription
	for _, s := range r.f.subs {
		if s.Status == models.SubscriptionStatusActive {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r fakeSubs) MarkExpired(ctx context.Context, id string, at time.Time) (bool, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	if err := r.f.markExpiredErr[id]; err != nil {
		return false, err
	}
	s, ok := r.f.subs[id]
	if !ok || s.Status != models.SubscriptionStatusActive {
		return false, nil
	}
	s.Status = models.SubscriptionStatusExpired
	s.UpdatedAt = at
	return true, nil
}

func (r fakeSubs) MarkMilestone(ctx context.Context, id string, m models.Milestone, at time.Time) (bool, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	s, ok := r.f.subs[id]
	if !ok || s.Notified(m) {
		return false, nil
	}
	switch m {
	case models.Milestone14d:
		s.Notified14d = true
	case models.Milestone7d:
		s.Notified7d = true
	case models.Milestone3d:
		s.Notified3d = true
	}
	s.UpdatedAt = at
	return true, nil
}

func (r fakeSubs) List(ctx context.Context, status string, limit, offset int) ([]*models.SubscriptionListing, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	var out []*models.SubscriptionListing
	for _, s := range r.f.subs {
		if status == "" || s.Status == status {
			out = append(out, &models.SubscriptionListing{Subscription: *s, Username: s.UserID})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EndDate.After(out[j].EndDate) })
	if offset >= len(out) {
		return []*models.SubscriptionListing{}, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (r fakeSubs) Stats(ctx context.Context, now time.Time, horizon time.Duration) (*models.SubscriptionStats, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	st := &models.SubscriptionStats{}
	for _, s := range r.f.subs {
		st.Total++
		switch s.Status {
		case models.SubscriptionStatusActive:
			st.Active++
			if !s.EndDate.Before(now) && !s.EndDate.After(now.Add(horizon)) {
				st.ExpiringSoon++
			}
		case models.SubscriptionStatusExpired:
			st.Expired++
		}
	}
	return st, nil
}

type fakePayments struct{ f *fakeBilling }

func (r fakePayments) Create(ctx context.Context, p *models.Payment) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	for _, existing := range r.f.payments {
		if existing.UserID == p.UserID && existing.IsPending() {
			return models.ErrPendingPaymentExists
		}
	}
	cp := *p
	r.f.payments[p.ID] = &cp
	return nil
}

func (r fakePayments) GetByID(ctx context.Context, id string) (*models.Payment, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	p, ok := r.f.payments[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (r fakePayments) GetByIDForUpdate(ctx context.Context, id string) (*models.Payment, error) {
	return r.GetByID(ctx, id)
}

func (r fakePayments) GetPendingByUser(ctx context.Context, userID string) (*models.Payment, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	for _, p := range r.f.payments {
		if p.UserID == userID && p.IsPending() {
			cp := *p
			return &cp, nil
		}
	}
	return nil, models.ErrNotFound
}

func (r fakePayments) ListByUser(ctx context.Context, userID string) ([]*models.Payment, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	var out []*models.Payment
	for _, p := range r.f.payments {
		if p.UserID == userID {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r fakePayments) ListByStatus(ctx context.Context, status string, limit, offset int) ([]*models.Payment, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	var out []*models.Payment
	for _, p := range r.f.payments {
		if status == "" || p.Status == status {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if offset >= len(out) {
		return []*models.Payment{}, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (r fakePayments) UpdateReview(ctx context.Context, p *models.Payment) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	if r.f.updateReviewErr != nil {
		return r.f.updateReviewErr
	}
	existing, ok := r.f.payments[p.ID]
	if !ok {
		return models.ErrNotFound
	}
	if !existing.IsPending() {
		return models.ErrAlreadyReviewed
	}
	cp := *p
	r.f.payments[p.ID] = &cp
	return nil
}

type fakeMethods struct{ f *fakeBilling }

func (r fakeMethods) Create(ctx context.Context, m *models.PaymentMethod) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	if _, ok := r.f.methods[m.ID]; ok {
		return models.ErrConflict
	}
	cp := *m
	r.f.methods[m.ID] = &cp
	return nil
}

func (r fakeMethods) GetByID(ctx context.Context, id string) (*models.PaymentMethod, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	m, ok := r.f.methods[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (r fakeMethods) List(ctx context.Context, activeOnly bool) ([]*models.PaymentMethod, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	out := make([]*models.PaymentMethod, 0, len(r.f.methods))
	for _, m := range r.f.methods {
		if activeOnly && !m.IsActive {
			continue
		}
		cp := *m
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DisplayOrder != out[j].DisplayOrder {
			return out[i].DisplayOrder < out[j].DisplayOrder
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r fakeMethods) Update(ctx context.Context, m *models.PaymentMethod) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	if _, ok := r.f.methods[m.ID]; !ok {
		return models.ErrNotFound
	}
	cp := *m
	r.f.methods[m.ID] = &cp
	return nil
}

func (r fakeMethods) Delete(ctx context.Context, id string) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	if _, ok := r.f.methods[id]; !ok {
		return models.ErrNotFound
	}
	for _, p := range r.f.payments {
		if p.MethodID == id {
			return models.ErrConflict
		}
	}
	delete(r.f.methods, id)
	return nil
}

// MockSettingsReader returns a fixed snapshot.
type MockSettingsReader struct {
	mu       sync.Mutex
	Settings models.SubscriptionSettings
	Err      error
	Calls    int
}

func defaultSettings() *MockSettingsReader {
	return &MockSettingsReader{Settings: models.SubscriptionSettings{
		GracePeriodDays: models.DefaultGracePeriodDays,
		GraceEnabled:    models.DefaultGraceEnabled,
		AnnualPrice:     models.DefaultAnnualPrice,
		Currency:        models.DefaultCurrency,
	}}
}

func (m *MockSettingsReader) SubscriptionSettings(ctx context.Context) (*models.SubscriptionSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls++
	if m.Err != nil {
		return nil, m.Err
	}
	cp := m.Settings
	return &cp, nil
}

func (m *MockSettingsReader) set(fn func(*models.SubscriptionSettings)) {
	m.mu.Lock()
	fn(&m.Settings)
	m.mu.Unlock()
}

type sentNotification struct {
	UserID  string
	Role    string
	Kind    string
	Message string
	Channel string
}

// recordingNotifier captures notifications instead of delivering them.
type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentNotification
}

func (n *recordingNotifier) Notify(ctx context.Context, userID, kind, message, channel string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentNotification{UserID: userID, Kind: kind, Message: message, Channel: channel})
}

func (n *recordingNotifier) NotifyRole(ctx context.Context, role, kind, message, channel string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentNotification{Role: role, Kind: kind, Message: message, Channel: channel})
}

func (n *recordingNotifier) kinds() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.sent))
	for _, s := range n.sent {
		out = append(out, s.Kind)
	}
	return out
}

func (n *recordingNotifier) count(kind string) int {
	c := 0
	for _, k := range n.kinds() {
		if k == kind {
			c++
		}
	}
	return c
}

// MockSettingsRepository stores settings in a map.
type MockSettingsRepository struct {
	Values    map[string]string
	GetErr    error
	SetErr    error
	SetCalled int
}

func (m *MockSettingsRepository) GetMany(ctx context.Context, keys ...string) (map[string]string, error) {
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	out := make(map[string]string)
	for _, k := range keys {
		if v, ok := m.Values[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

func (m *MockSettingsRepository) Set(ctx context.Context, values map[string]string) error {
	m.SetCalled++
	if m.SetErr != nil {
		return m.SetErr
	}
	if m.Values == nil {
		m.Values = make(map[string]string)
	}
	for k, v := range values {
		m.Values[k] = v
	}
	return nil
}

// MockNotificationRepository records in-app notifications.
type MockNotificationRepository struct {
	mu      sync.Mutex
	Created []*models.Notification
	Err     error
}

func (m *MockNotificationRepository) Create(ctx context.Context, n *models.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Created = append(m.Created, n)
	return nil
}

func (m *MockNotificationRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*models.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	out := make([]*models.Notification, 0)
	for i := len(m.Created) - 1; i >= 0 && len(out) < limit; i-- {
		if m.Created[i].UserID == userID {
			out = append(out, m.Created[i])
		}
	}
	return out, nil
}

type sentEmail struct {
	To      string
	Subject string
	Body    string
}

// MockEmailSender records outgoing mail.
type MockEmailSender struct {
	mu   sync.Mutex
	Sent []sentEmail
	Err  error
}

func (m *MockEmailSender) Send(ctx context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Sent = append(m.Sent, sentEmail{To: to, Subject: subject, Body: body})
	return nil
}

// MockSESClient implements SESAPI
type MockSESClient struct {
	SendEmailFunc func(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

func (m *MockSESClient) SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	return m.SendEmailFunc(ctx, params, optFns...)
}

// unavailableStore fails every call the way an unreachable Redis does.
type unavailableStore struct{}

func (unavailableStore) Put(context.Context, string, []byte, time.Duration) error {
	return models.ErrBackendUnavailable
}
func (unavailableStore) Get(context.Context, string) ([]byte, error) {
	return nil, models.ErrBackendUnavailable
}
func (unavailableStore) Replace(context.Context, string, []byte) (bool, error) {
	return false, models.ErrBackendUnavailable
}
func (unavailableStore) Delete(context.Context, string) (bool, error) {
	return false, models.ErrBackendUnavailable
}
func (unavailableStore) Incr(context.Context, string, time.Duration) (int64, error) {
	return 0, models.ErrBackendUnavailable
}
func (unavailableStore) AddMember(context.Context, string, string) error {
	return models.ErrBackendUnavailable
}
func (unavailableStore) Members(context.Context, string) ([]string, error) {
	return nil, models.ErrBackendUnavailable
}
func (unavailableStore) RemoveMember(context.Context, string, string) error {
	return models.ErrBackendUnavailable
}
func (unavailableStore) ExtendTTL(context.Context, string, time.Duration) (bool, error) {
	return false, models.ErrBackendUnavailable
}
func (unavailableStore) Ping(context.Context) error { return models.ErrBackendUnavailable }
func (unavailableStore) Close() error               { return nil }

// MockAuditRepository keeps audit entries in memory.
type MockAuditRepository struct {
	mu         sync.Mutex
	Entries    []*models.AuditEntry
	CreateErr  error
	LastFilter models.AuditFilter
}

func (m *MockAuditRepository) Create(ctx context.Context, e *models.AuditEntry) error {
	if m.CreateErr != nil {
		return m.CreateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Entries = append(m.Entries, e)
	return nil
}

func (m *MockAuditRepository) List(ctx context.Context, f models.AuditFilter) ([]*models.AuditEntry, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LastFilter = f
	var out []*models.AuditEntry
	for _, e := range m.Entries {
		if f.EventType != "" && e.EventType != f.EventType {
			continue
		}
		out = append(out, e)
	}
	total := int64(len(out))
	if f.Offset < len(out) {
		out = out[f.Offset:min(len(out), f.Offset+f.Limit)]
	} else {
		out = nil
	}
	return out, total, nil
}

func (m *MockAuditRepository) ListByEventTypes(ctx context.Context, types []string, since time.Time, limit int) ([]*models.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.AuditEntry
	for i := len(m.Entries) - 1; i >= 0 && len(out) < limit; i-- {
		e := m.Entries[i]
		if slices.Contains(types, e.EventType) && !e.CreatedAt.Before(since) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *MockAuditRepository) CountSuccessByEventType(ctx context.Context, types []string, since time.Time) (map[string]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[string]int64)
	for _, e := range m.Entries {
		if !slices.Contains(types, e.EventType) || e.CreatedAt.Before(since) {
			continue
		}
		if e.Success {
			counts[e.EventType+":ok"]++
		} else {
			counts[e.EventType+":fail"]++
		}
	}
	return counts, nil
}

func (m *MockAuditRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.Entries[:0]
	var n int64
	for _, e := range m.Entries {
		if e.CreatedAt.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	m.Entries = kept
	return n, nil
}
