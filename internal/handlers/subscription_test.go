package handlers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BradenHooton/tradergate/internal/auth"
	"github.com/BradenHooton/tradergate/internal/models"
	"github.com/BradenHooton/tradergate/internal/services"
	pkghttp "github.com/BradenHooton/tradergate/pkg/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validPayment() services.SubmitPaymentInput {
	return services.SubmitPaymentInput{
		MethodID:             "3d2f9a4e-7c1b-4f0a-9e2d-5b6c7d8e9f01",
		SenderName:           "Abebe Kebede",
		SenderPhone:          "+251911000000",
		TransactionReference: "TX-1001",
		Amount:               1200,
		PaymentDate:          time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC),
	}
}

func TestSubscriptionStatus(t *testing.T) {
	end := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	svc := &MockSubscriptionService{
		CurrentAccessFunc: func(ctx context.Context, userID string) (*models.AccessState, error) {
			assert.Equal(t, "user-1", userID)
			return &models.AccessState{Status: models.AccessActive, DaysRemaining: 42, EndDate: &end}, nil
		},
	}
	h := NewSubscriptionHandler(svc)

	w := httptest.NewRecorder()
	h.Status(w, httptest.NewRequest(http.MethodGet, "/api/subscription/status", nil))
	AssertErrorResponse(t, w, http.StatusUnauthorized, pkghttp.ErrCodeUnauthorized)

	w = httptest.NewRecorder()
	h.Status(w, WithAuthContext(httptest.NewRequest(http.MethodGet, "/api/subscription/status", nil), "user-1", models.RoleTrader))

	var state models.AccessState
	AssertJSONResponse(t, w, http.StatusOK, &state)
	assert.Equal(t, models.AccessActive, state.Status)
	assert.Equal(t, 42, state.DaysRemaining)
}

func TestSubscriptionStatus_BackendDown(t *testing.T) {
	svc := &MockSubscriptionService{
		CurrentAccessFunc: func(ctx context.Context, userID string) (*models.AccessState, error) {
			return nil, models.ErrBackendUnavailable
		},
	}
	h := NewSubscriptionHandler(svc)

	w := httptest.NewRecorder()
	h.Status(w, WithAuthContext(httptest.NewRequest(http.MethodGet, "/api/subscription/status", nil), "user-1", models.RoleTrader))
	AssertErrorResponse(t, w, http.StatusServiceUnavailable, pkghttp.ErrCodeServiceUnavailable)
}

func TestSubscriptionMe(t *testing.T) {
	svc := &MockSubscriptionService{
		MySubscriptionFunc: func(ctx context.Context, userID string) (*services.SubscriptionOverview, error) {
			return &services.SubscriptionOverview{
				Access:      &models.AccessState{Status: models.AccessNone},
				History:     []*models.Subscription{},
				AnnualPrice: 1200,
				Currency:    "ETB",
			}, nil
		},
	}
	h := NewSubscriptionHandler(svc)

	w := httptest.NewRecorder()
	h.Me(w, WithAuthContext(httptest.NewRequest(http.MethodGet, "/api/subscription/me", nil), "user-1", models.RoleTrader))

	var resp services.SubscriptionOverview
	AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.Equal(t, "ETB", resp.Currency)
	require.NotNil(t, resp.Access)
	assert.Equal(t, models.AccessNone, resp.Access.Status)
}

func TestListPayments_EmptyIsArray(t *testing.T) {
	h := NewSubscriptionHandler(&MockSubscriptionService{})

	w := httptest.NewRecorder()
	h.ListPayments(w, WithAuthContext(httptest.NewRequest(http.MethodGet, "/api/payments", nil), "user-1", models.RoleTrader))

	AssertJSONResponse(t, w, http.StatusOK, nil)
	assert.JSONEq(t, `{"payments":[]}`, w.Body.String())
}

func TestSubmitPayment(t *testing.T) {
	svc := &MockSubscriptionService{
		SubmitPaymentFunc: func(ctx context.Context, userID string, in services.SubmitPaymentInput) (*models.Payment, error) {
			return &models.Payment{ID: "pay-1", UserID: userID, MethodID: in.MethodID, Amount: in.Amount, Status: models.PaymentStatusPending}, nil
		},
	}
	h := NewSubscriptionHandler(svc)

	w := httptest.NewRecorder()
	h.SubmitPayment(w, WithAuthContext(NewTestRequest(t, http.MethodPost, "/api/payments", validPayment()), "user-1", models.RoleTrader))

	var payment models.Payment
	AssertJSONResponse(t, w, http.StatusCreated, &payment)
	assert.Equal(t, "pay-1", payment.ID)
	assert.Equal(t, "user-1", payment.UserID)
	assert.Equal(t, models.PaymentStatusPending, payment.Status)
}

func TestSubmitPayment_Errors(t *testing.T) {
	t.Run("missing fields", func(t *testing.T) {
		h := NewSubscriptionHandler(&MockSubscriptionService{})
		in := validPayment()
		in.SenderName = ""

		w := httptest.NewRecorder()
		h.SubmitPayment(w, WithAuthContext(NewTestRequest(t, http.MethodPost, "/api/payments", in), "user-1", models.RoleTrader))
		AssertErrorResponse(t, w, http.StatusBadRequest, pkghttp.ErrCodeValidation)
	})

	t.Run("method id not a uuid", func(t *testing.T) {
		h := NewSubscriptionHandler(&MockSubscriptionService{})
		in := validPayment()
		in.MethodID = "telebirr"

		w := httptest.NewRecorder()
		h.SubmitPayment(w, WithAuthContext(NewTestRequest(t, http.MethodPost, "/api/payments", in), "user-1", models.RoleTrader))
		AssertErrorResponse(t, w, http.StatusBadRequest, pkghttp.ErrCodeValidation)
	})

	t.Run("inactive method", func(t *testing.T) {
		svc := &MockSubscriptionService{
			SubmitPaymentFunc: func(ctx context.Context, userID string, in services.SubmitPaymentInput) (*models.Payment, error) {
				return nil, fmt.Errorf("payment method is not active: %w", models.ErrBadRequest)
			},
		}
		h := NewSubscriptionHandler(svc)

		w := httptest.NewRecorder()
		h.SubmitPayment(w, WithAuthContext(NewTestRequest(t, http.MethodPost, "/api/payments", validPayment()), "user-1", models.RoleTrader))
		resp := AssertErrorResponse(t, w, http.StatusBadRequest, pkghttp.ErrCodeBadRequest)
		assert.Contains(t, resp.Message, "not active")
	})

	t.Run("pending exists", func(t *testing.T) {
		svc := &MockSubscriptionService{
			SubmitPaymentFunc: func(ctx context.Context, userID string, in services.SubmitPaymentInput) (*models.Payment, error) {
				return nil, models.ErrPendingPaymentExists
			},
		}
		h := NewSubscriptionHandler(svc)

		w := httptest.NewRecorder()
		h.SubmitPayment(w, WithAuthContext(NewTestRequest(t, http.MethodPost, "/api/payments", validPayment()), "user-1", models.RoleTrader))
		AssertErrorResponse(t, w, http.StatusConflict, pkghttp.ErrCodeConflict)
	})
}

func TestComplaints_EchoesAccess(t *testing.T) {
	h := NewSubscriptionHandler(&MockSubscriptionService{})

	state := &models.AccessState{Status: models.AccessGrace, Limited: true}
	req := httptest.NewRequest(http.MethodGet, "/api/complaints", nil)
	req = req.WithContext(context.WithValue(req.Context(), auth.AccessContextKey, state))
	w := httptest.NewRecorder()
	h.Complaints(w, req)

	var resp struct {
		Complaints []interface{}       `json:"complaints"`
		Access     *models.AccessState `json:"access"`
	}
	AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.Empty(t, resp.Complaints)
	require.NotNil(t, resp.Access)
	assert.Equal(t, models.AccessGrace, resp.Access.Status)
	assert.True(t, resp.Access.Limited)
}
