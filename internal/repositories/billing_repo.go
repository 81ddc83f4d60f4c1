package repositories

import (
	"context"
	"time"

	"github.com/BradenHooton/tradergate/internal/models"
)

// SubscriptionRepository defines data access for subscription rows. Rows are
// never deleted; the sweep only flips status and milestone flags.
type SubscriptionRepository interface {
	// GetLatestByUser returns the row with the latest end_date regardless of status.
	GetLatestByUser(ctx context.Context, userID string) (*models.Subscription, error)

	Create(ctx context.Context, sub *models.Subscription) error

	// ListByUser returns the user's history, newest end_date first.
	ListByUser(ctx context.Context, userID string) ([]*models.Subscription, error)

	// ListActive returns every row whose stored status is active.
	ListActive(ctx context.Context) ([]*models.Subscription, error)

	// MarkExpired flips an active row to expired. Reports false if the row
	// was already expired, which makes re-runs no-ops.
	MarkExpired(ctx context.Context, id string, at time.Time) (bool, error)

	// MarkMilestone sets one reminder flag if it is still false.
	MarkMilestone(ctx context.Context, id string, m models.Milestone, at time.Time) (bool, error)

	// List returns rows joined with their owners, latest end_date first. An
	// empty status lists all.
	List(ctx context.Context, status string, limit, offset int) ([]*models.SubscriptionListing, error)

	// Stats counts rows by status; active rows ending in [now, now+horizon]
	// are also counted as expiring soon.
	Stats(ctx context.Context, now time.Time, horizon time.Duration) (*models.SubscriptionStats, error)
}

// PaymentMethodRepository defines data access for the accounts traders pay into.
type PaymentMethodRepository interface {
	Create(ctx context.Context, method *models.PaymentMethod) error
	GetByID(ctx context.Context, id string) (*models.PaymentMethod, error)

	// List returns methods by display order; activeOnly hides disabled ones.
	List(ctx context.Context, activeOnly bool) ([]*models.PaymentMethod, error)

	Update(ctx context.Context, method *models.PaymentMethod) error

	// Delete removes a method. A method referenced by any payment cannot be
	// deleted and returns ErrConflict; deactivate it instead.
	Delete(ctx context.Context, id string) error
}

// PaymentRepository defines data access for payment submissions.
type PaymentRepository interface {
	Create(ctx context.Context, payment *models.Payment) error

	GetByID(ctx context.Context, id string) (*models.Payment, error)

	// GetByIDForUpdate row-locks the payment for the rest of the transaction.
	GetByIDForUpdate(ctx context.Context, id string) (*models.Payment, error)

	// GetPendingByUser returns the user's pending submission, or ErrNotFound.
	GetPendingByUser(ctx context.Context, userID string) (*models.Payment, error)

	ListByUser(ctx context.Context, userID string) ([]*models.Payment, error)

	// ListByStatus returns payments oldest first; an empty status lists all.
	ListByStatus(ctx context.Context, status string, limit, offset int) ([]*models.Payment, error)

	// UpdateReview records the reviewer decision. Only pending rows are
	// updated; anything else returns ErrAlreadyReviewed.
	UpdateReview(ctx context.Context, payment *models.Payment) error
}

// BillingRepository groups the subscription, payment and payment method tables so both can be
// written in one unit of work.
type BillingRepository interface {
	Subscriptions() SubscriptionRepository
	Payments() PaymentRepository
	Methods() PaymentMethodRepository

	// WithTx runs fn against a transactional view. Any error rolls back both
	// tables and is returned unchanged.
	WithTx(ctx context.Context, fn func(BillingRepository) error) error
}
