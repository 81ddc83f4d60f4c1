package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BradenHooton/tradergate/internal/auth"
	"github.com/BradenHooton/tradergate/internal/models"
	"github.com/BradenHooton/tradergate/internal/services"
	pkghttp "github.com/BradenHooton/tradergate/pkg/http"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// WithAuthContext adds access claims to request context for testing authenticated endpoints
func WithAuthContext(req *http.Request, userID, role string) *http.Request {
	claims := &models.TokenClaims{
		Type:     "access",
		UserID:   userID,
		Username: userID,
		Role:     role,
	}
	ctx := context.WithValue(req.Context(), auth.UserContextKey, claims)
	return req.WithContext(ctx)
}

// WithURLParams attaches chi route parameters to the request
func WithURLParams(req *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target interface{}) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	contentType := w.Header().Get("Content-Type")
	assert.Equal(t, "application/json", contentType, "Content-Type should be application/json")

	if target != nil {
		err := json.Unmarshal(w.Body.Bytes(), target)
		assert.NoError(t, err, "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks that response is a valid error response
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) pkghttp.ErrorResponse {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err, "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
	return resp
}

// MockAuthService implements AuthServiceInterface for testing
type MockAuthService struct {
	LoginFunc              func(ctx context.Context, username, password string, client services.ClientInfo) (*services.AuthResponse, error)
	VerifySecondFactorFunc func(ctx context.Context, challenge, code string, client services.ClientInfo) (*services.AuthResponse, error)
	RefreshTokenFunc       func(ctx context.Context, refreshToken string, client services.ClientInfo) (*services.AuthResponse, error)
	LogoutFunc             func(ctx context.Context, refreshToken string) error
	LogoutAllFunc          func(ctx context.Context, userID string) (int, error)
	ChangePasswordFunc     func(ctx context.Context, userID, current, next string, client services.ClientInfo) error
	ListSessionsFunc       func(ctx context.Context, userID string) ([]*models.Session, error)
	RevokeOwnSessionFunc   func(ctx context.Context, userID, refreshToken string) error
	EnrollTOTPFunc         func(ctx context.Context, userID string) (*auth.TOTPEnrollment, error)
	ConfirmTOTPFunc        func(ctx context.Context, userID, code string) error
	DisableTOTPFunc        func(ctx context.Context, userID, password string) error
	GetProfileFunc         func(ctx context.Context, userID string) (*services.UserResponse, error)
}

func (m *MockAuthService) Login(ctx context.Context, username, password string, client services.ClientInfo) (*services.AuthResponse, error) {
	if m.LoginFunc == nil {
		return nil, models.ErrUnauthorized
	}
	return m.LoginFunc(ctx, username, password, client)
}

func (m *MockAuthService) VerifySecondFactor(ctx context.Context, challenge, code string, client services.ClientInfo) (*services.AuthResponse, error) {
	if m.VerifySecondFactorFunc == nil {
		return nil, models.ErrUnauthorized
	}
	return m.VerifySecondFactorFunc(ctx, challenge, code, client)
}

func (m *MockAuthService) RefreshToken(ctx context.Context, refreshToken string, client services.ClientInfo) (*services.AuthResponse, error) {
	if m.RefreshTokenFunc == nil {
		return nil, models.ErrUnauthorized
	}
	return m.RefreshTokenFunc(ctx, refreshToken, client)
}

func (m *MockAuthService) Logout(ctx context.Context, refreshToken string) error {
	if m.LogoutFunc == nil {
		return nil
	}
	return m.LogoutFunc(ctx, refreshToken)
}

func (m *MockAuthService) LogoutAll(ctx context.Context, userID string) (int, error) {
	if m.LogoutAllFunc == nil {
		return 0, nil
	}
	return m.LogoutAllFunc(ctx, userID)
}

func (m *MockAuthService) ChangePassword(ctx context.Context, userID, current, next string, client services.ClientInfo) error {
	if m.ChangePasswordFunc == nil {
		return nil
	}
	return m.ChangePasswordFunc(ctx, userID, current, next, client)
}

func (m *MockAuthService) ListSessions(ctx context.Context, userID string) ([]*models.Session, error) {
	if m.ListSessionsFunc == nil {
		return []*models.Session{}, nil
	}
	return m.ListSessionsFunc(ctx, userID)
}

func (m *MockAuthService) RevokeOwnSession(ctx context.Context, userID, refreshToken string) error {
	if m.RevokeOwnSessionFunc == nil {
		return nil
	}
	return m.RevokeOwnSessionFunc(ctx, userID, refreshToken)
}

func (m *MockAuthService) EnrollTOTP(ctx context.Context, userID string) (*auth.TOTPEnrollment, error) {
	if m.EnrollTOTPFunc == nil {
		return nil, models.ErrNotFound
	}
	return m.EnrollTOTPFunc(ctx, userID)
}

func (m *MockAuthService) ConfirmTOTP(ctx context.Context, userID, code string) error {
	if m.ConfirmTOTPFunc == nil {
		return nil
	}
	return m.ConfirmTOTPFunc(ctx, userID, code)
}

func (m *MockAuthService) DisableTOTP(ctx context.Context, userID, password string) error {
	if m.DisableTOTPFunc == nil {
		return nil
	}
	return m.DisableTOTPFunc(ctx, userID, password)
}

func (m *MockAuthService) GetProfile(ctx context.Context, userID string) (*services.UserResponse, error) {
	if m.GetProfileFunc == nil {
		return nil, models.ErrNotFound
	}
	return m.GetProfileFunc(ctx, userID)
}

// MockSubscriptionService implements SubscriptionServiceInterface and PaymentReviewService for testing
type MockSubscriptionService struct {
	CurrentAccessFunc        func(ctx context.Context, userID string) (*models.AccessState, error)
	MySubscriptionFunc       func(ctx context.Context, userID string) (*services.SubscriptionOverview, error)
	ListPaymentsFunc         func(ctx context.Context, userID string) ([]*models.Payment, error)
	SubmitPaymentFunc        func(ctx context.Context, userID string, in services.SubmitPaymentInput) (*models.Payment, error)
	ListPaymentsByStatusFunc func(ctx context.Context, status string, limit, offset int) ([]*models.Payment, error)
	GetPaymentFunc           func(ctx context.Context, id string) (*models.Payment, error)
	ApprovePaymentFunc       func(ctx context.Context, paymentID, reviewerID, notes string) (*models.Subscription, error)
	RejectPaymentFunc        func(ctx context.Context, paymentID, reviewerID, reason string) (*models.Payment, error)
	RunDailySweepFunc        func(ctx context.Context) (*models.SweepResult, error)
	ListAllSubscriptionsFunc func(ctx context.Context, status string, limit, offset int) ([]*models.SubscriptionListing, error)
	SubscriptionStatsFunc    func(ctx context.Context) (*models.SubscriptionStats, error)
}

func (m *MockSubscriptionService) CurrentAccess(ctx context.Context, userID string) (*models.AccessState, error) {
	if m.CurrentAccessFunc == nil {
		return &models.AccessState{Status: models.AccessNone}, nil
	}
	return m.CurrentAccessFunc(ctx, userID)
}

func (m *MockSubscriptionService) MySubscription(ctx context.Context, userID string) (*services.SubscriptionOverview, error) {
	if m.MySubscriptionFunc == nil {
		return nil, models.ErrNotFound
	}
	return m.MySubscriptionFunc(ctx, userID)
}

func (m *MockSubscriptionService) ListPayments(ctx context.Context, userID string) ([]*models.Payment, error) {
	if m.ListPaymentsFunc == nil {
		return nil, nil
	}
	return m.ListPaymentsFunc(ctx, userID)
}

func (m *MockSubscriptionService) SubmitPayment(ctx context.Context, userID string, in services.SubmitPaymentInput) (*models.Payment, error) {
	if m.SubmitPaymentFunc == nil {
		return nil, models.ErrBadRequest
	}
	return m.SubmitPaymentFunc(ctx, userID, in)
}

func (m *MockSubscriptionService) ListPaymentsByStatus(ctx context.Context, status string, limit, offset int) ([]*models.Payment, error) {
	if m.ListPaymentsByStatusFunc == nil {
		return nil, nil
	}
	return m.ListPaymentsByStatusFunc(ctx, status, limit, offset)
}

func (m *MockSubscriptionService) GetPayment(ctx context.Context, id string) (*models.Payment, error) {
	if m.GetPaymentFunc == nil {
		return nil, models.ErrNotFound
	}
	return m.GetPaymentFunc(ctx, id)
}

func (m *MockSubscriptionService) ApprovePayment(ctx context.Context, paymentID, reviewerID, notes string) (*models.Subscription, error) {
	if m.ApprovePaymentFunc == nil {
		return nil, models.ErrNotFound
	}
	return m.ApprovePaymentFunc(ctx, paymentID, reviewerID, notes)
}

func (m *MockSubscriptionService) RejectPayment(ctx context.Context, paymentID, reviewerID, reason string) (*models.Payment, error) {
	if m.RejectPaymentFunc == nil {
		return nil, models.ErrNotFound
	}
	return m.RejectPaymentFunc(ctx, paymentID, reviewerID, reason)
}

func (m *MockSubscriptionService) RunDailySweep(ctx context.Context) (*models.SweepResult, error) {
	if m.RunDailySweepFunc == nil {
		return &models.SweepResult{}, nil
	}
	return m.RunDailySweepFunc(ctx)
}

func (m *MockSubscriptionService) ListAllSubscriptions(ctx context.Context, status string, limit, offset int) ([]*models.SubscriptionListing, error) {
	if m.ListAllSubscriptionsFunc == nil {
		return nil, nil
	}
	return m.ListAllSubscriptionsFunc(ctx, status, limit, offset)
}

func (m *MockSubscriptionService) SubscriptionStats(ctx context.Context) (*models.SubscriptionStats, error) {
	if m.SubscriptionStatsFunc == nil {
		return &models.SubscriptionStats{}, nil
	}
	return m.SubscriptionStatsFunc(ctx)
}

// MockUnlocker implements LockoutAdmin for testing
type MockUnlocker struct {
	UnlockFunc            func(ctx context.Context, username string) (bool, error)
	IsLockedFunc          func(ctx context.Context, username string) (*models.LockStatus, error)
	RemainingAttemptsFunc func(ctx context.Context, username, addr string) (int, error)
}

func (m *MockUnlocker) IsLocked(ctx context.Context, username string) (*models.LockStatus, error) {
	if m.IsLockedFunc == nil {
		return &models.LockStatus{}, nil
	}
	return m.IsLockedFunc(ctx, username)
}

func (m *MockUnlocker) RemainingAttempts(ctx context.Context, username, addr string) (int, error) {
	if m.RemainingAttemptsFunc == nil {
		return 5, nil
	}
	return m.RemainingAttemptsFunc(ctx, username, addr)
}

func (m *MockUnlocker) Unlock(ctx context.Context, username string) (bool, error) {
	if m.UnlockFunc == nil {
		return false, nil
	}
	return m.UnlockFunc(ctx, username)
}

// MockSettingsService implements SettingsServiceInterface for testing
type MockSettingsService struct {
	SubscriptionSettingsFunc       func(ctx context.Context) (*models.SubscriptionSettings, error)
	UpdateSubscriptionSettingsFunc func(ctx context.Context, in services.UpdateSubscriptionSettingsInput) (*models.SubscriptionSettings, error)
}

func (m *MockSettingsService) SubscriptionSettings(ctx context.Context) (*models.SubscriptionSettings, error) {
	if m.SubscriptionSettingsFunc == nil {
		return &models.SubscriptionSettings{}, nil
	}
	return m.SubscriptionSettingsFunc(ctx)
}

func (m *MockSettingsService) UpdateSubscriptionSettings(ctx context.Context, in services.UpdateSubscriptionSettingsInput) (*models.SubscriptionSettings, error) {
	if m.UpdateSubscriptionSettingsFunc == nil {
		return &models.SubscriptionSettings{}, nil
	}
	return m.UpdateSubscriptionSettingsFunc(ctx, in)
}

// MockNotificationLister implements NotificationLister for testing
type MockNotificationLister struct {
	ListForUserFunc func(ctx context.Context, userID string, limit int) ([]*models.Notification, error)
}

func (m *MockNotificationLister) ListForUser(ctx context.Context, userID string, limit int) ([]*models.Notification, error) {
	if m.ListForUserFunc == nil {
		return []*models.Notification{}, nil
	}
	return m.ListForUserFunc(ctx, userID, limit)
}

// MockPaymentMethodService implements PaymentMethodServiceInterface for testing
type MockPaymentMethodService struct {
	ListActiveFunc func(ctx context.Context) ([]*models.PaymentMethod, error)
	ListAllFunc    func(ctx context.Context) ([]*models.PaymentMethod, error)
	CreateFunc     func(ctx context.Context, actorID string, in services.PaymentMethodInput) (*models.PaymentMethod, error)
	UpdateFunc     func(ctx context.Context, actorID, id string, patch services.PaymentMethodPatch) (*models.PaymentMethod, error)
	DeleteFunc     func(ctx context.Context, actorID, id string) error
}

func (m *MockPaymentMethodService) ListActive(ctx context.Context) ([]*models.PaymentMethod, error) {
	if m.ListActiveFunc == nil {
		return nil, nil
	}
	return m.ListActiveFunc(ctx)
}

func (m *MockPaymentMethodService) ListAll(ctx context.Context) ([]*models.PaymentMethod, error) {
	if m.ListAllFunc == nil {
		return nil, nil
	}
	return m.ListAllFunc(ctx)
}

func (m *MockPaymentMethodService) Create(ctx context.Context, actorID string, in services.PaymentMethodInput) (*models.PaymentMethod, error) {
	if m.CreateFunc == nil {
		return nil, models.ErrBadRequest
	}
	return m.CreateFunc(ctx, actorID, in)
}

func (m *MockPaymentMethodService) Update(ctx context.Context, actorID, id string, patch services.PaymentMethodPatch) (*models.PaymentMethod, error) {
	if m.UpdateFunc == nil {
		return nil, models.ErrNotFound
	}
	return m.UpdateFunc(ctx, actorID, id, patch)
}

func (m *MockPaymentMethodService) Delete(ctx context.Context, actorID, id string) error {
	if m.DeleteFunc == nil {
		return models.ErrNotFound
	}
	return m.DeleteFunc(ctx, actorID, id)
}

// MockAuditReader implements AuditReader for testing
type MockAuditReader struct {
	AuditLogFunc       func(ctx context.Context, f models.AuditFilter) ([]*models.AuditEntry, int64, error)
	SecurityEventsFunc func(ctx context.Context, days int) ([]*models.AuditEntry, error)
	SecurityStatsFunc  func(ctx context.Context, days int) (*models.SecurityStats, error)
}

func (m *MockAuditReader) AuditLog(ctx context.Context, f models.AuditFilter) ([]*models.AuditEntry, int64, error) {
	if m.AuditLogFunc == nil {
		return nil, 0, nil
	}
	return m.AuditLogFunc(ctx, f)
}

func (m *MockAuditReader) SecurityEvents(ctx context.Context, days int) ([]*models.AuditEntry, error) {
	if m.SecurityEventsFunc == nil {
		return nil, nil
	}
	return m.SecurityEventsFunc(ctx, days)
}

func (m *MockAuditReader) SecurityStats(ctx context.Context, days int) (*models.SecurityStats, error) {
	if m.SecurityStatsFunc == nil {
		return &models.SecurityStats{WindowDays: days}, nil
	}
	return m.SecurityStatsFunc(ctx, days)
}
