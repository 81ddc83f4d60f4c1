package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BradenHooton/tradergate/internal/database"
	"github.com/BradenHooton/tradergate/internal/models"
	"github.com/jackc/pgx/v5"
)

// BillingRepositoryImpl implements BillingRepository on Postgres
type BillingRepositoryImpl struct {
	db   *database.DB
	q    database.Querier
	inTx bool
}

// NewBillingRepository creates a billing repository backed by the pool
func NewBillingRepository(db *database.DB) BillingRepository {
	return &BillingRepositoryImpl{db: db, q: db.Pool}
}

func (r *BillingRepositoryImpl) Subscriptions() SubscriptionRepository {
	return &subscriptionRepo{q: r.q}
}

func (r *BillingRepositoryImpl) Payments() PaymentRepository {
	return &paymentRepo{q: r.q}
}

func (r *BillingRepositoryImpl) Methods() PaymentMethodRepository {
	return &paymentMethodRepo{q: r.q}
}

func (r *BillingRepositoryImpl) WithTx(ctx context.Context, fn func(BillingRepository) error) error {
	if r.inTx {
		return fn(r)
	}
	return r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		return fn(&BillingRepositoryImpl{db: r.db, q: tx, inTx: true})
	})
}

// --- subscriptions ---

type subscriptionRepo struct {
	q database.Querier
}

const subscriptionColumns = `id, user_id, plan, start_date, end_date, status, is_renewal, renewed_from,
	grace_period_enabled, notified_14d, notified_7d, notified_3d, created_at, updated_at`

func scanSubscriptionRow(scanner rowScanner) (*models.Subscription, error) {
	var sub models.Subscription

	err := scanner.Scan(
		&sub.ID, &sub.UserID, &sub.Plan, &sub.StartDate, &sub.EndDate, &sub.Status,
		&sub.IsRenewal, &sub.RenewedFrom, &sub.GracePeriodEnabled,
		&sub.Notified14d, &sub.Notified7d, &sub.Notified3d,
		&sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &sub, nil
}

func scanSubscriptionRows(rows pgx.Rows) ([]*models.Subscription, error) {
	defer rows.Close()

	subs := make([]*models.Subscription, 0)
	for rows.Next() {
		sub, err := scanSubscriptionRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		subs = append(subs, sub)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return subs, nil
}

func (r *subscriptionRepo) GetLatestByUser(ctx context.Context, userID string) (*models.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + `
		FROM subscriptions WHERE user_id = $1
		ORDER BY end_date DESC, created_at DESC LIMIT 1`
	return scanSubscriptionRow(r.q.QueryRow(ctx, query, userID))
}

func (r *subscriptionRepo) Create(ctx context.Context, sub *models.Subscription) error {
	query := `
		INSERT INTO subscriptions (id, user_id, plan, start_date, end_date, status, is_renewal,
			renewed_from, grace_period_enabled, notified_14d, notified_7d, notified_3d, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	_, err := r.q.Exec(ctx, query,
		sub.ID, sub.UserID, sub.Plan, sub.StartDate, sub.EndDate, sub.Status, sub.IsRenewal,
		sub.RenewedFrom, sub.GracePeriodEnabled, sub.Notified14d, sub.Notified7d, sub.Notified3d,
		sub.CreatedAt, sub.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create subscription: %w", database.MapPostgresError(err))
	}
	return nil
}

func (r *subscriptionRepo) ListByUser(ctx context.Context, userID string) ([]*models.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + `
		FROM subscriptions WHERE user_id = $1 ORDER BY end_date DESC`

	rows, err := r.q.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query subscriptions: %w", err)
	}
	return scanSubscriptionRows(rows)
}

func (r *subscriptionRepo) ListActive(ctx context.Context) ([]*models.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + `
		FROM subscriptions WHERE status = 'active' ORDER BY end_date`

	rows, err := r.q.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query active subscriptions: %w", err)
	}
	return scanSubscriptionRows(rows)
}

func (r *subscriptionRepo) MarkExpired(ctx context.Context, id string, at time.Time) (bool, error) {
	query := `UPDATE subscriptions SET status = 'expired', updated_at = $2 WHERE id = $1 AND status = 'active'`

	tag, err := r.q.Exec(ctx, query, id, at)
	if err != nil {
		return false, database.MapPostgresError(err)
	}
	return tag.RowsAffected() == 1, nil
}

func milestoneColumn(m models.Milestone) (string, error) {
	switch m {
	case models.Milestone14d:
		return "notified_14d", nil
	case models.Milestone7d:
		return "notified_7d", nil
	case models.Milestone3d:
		return "notified_3d", nil
	}
	return "", fmt.Errorf("unknown milestone %d: %w", m, models.ErrBadRequest)
}

func (r *subscriptionRepo) MarkMilestone(ctx context.Context, id string, m models.Milestone, at time.Time) (bool, error) {
	col, err := milestoneColumn(m)
	if err != nil {
		return false, err
	}

	query := `UPDATE subscriptions SET ` + col + ` = TRUE, updated_at = $2 WHERE id = $1 AND NOT ` + col

	tag, err := r.q.Exec(ctx, query, id, at)
	if err != nil {
		return false, database.MapPostgresError(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *subscriptionRepo) List(ctx context.Context, status string, limit, offset int) ([]*models.SubscriptionListing, error) {
	query := `
		SELECT s.id, s.user_id, s.plan, s.start_date, s.end_date, s.status, s.is_renewal, s.renewed_from,
		       s.grace_period_enabled, s.notified_14d, s.notified_7d, s.notified_3d, s.created_at, s.updated_at,
		       u.username, u.full_name, COALESCE(u.email, '')
		FROM subscriptions s
		JOIN users u ON u.id = s.user_id
		WHERE ($1 = '' OR s.status = $1)
		ORDER BY s.end_date DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.q.Query(ctx, query, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query subscriptions: %w", err)
	}
	defer rows.Close()

	out := make([]*models.SubscriptionListing, 0)
	for rows.Next() {
		var l models.SubscriptionListing
		sub := &l.Subscription
		if err := rows.Scan(
			&sub.ID, &sub.UserID, &sub.Plan, &sub.StartDate, &sub.EndDate, &sub.Status,
			&sub.IsRenewal, &sub.RenewedFrom, &sub.GracePeriodEnabled,
			&sub.Notified14d, &sub.Notified7d, &sub.Notified3d,
			&sub.CreatedAt, &sub.UpdatedAt,
			&l.Username, &l.FullName, &l.Email,
		); err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		out = append(out, &l)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return out, nil
}

func (r *subscriptionRepo) Stats(ctx context.Context, now time.Time, horizon time.Duration) (*models.SubscriptionStats, error) {
	query := `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE status = 'active'),
		       COUNT(*) FILTER (WHERE status = 'expired'),
		       COUNT(*) FILTER (WHERE status = 'active' AND end_date >= $1 AND end_date <= $2)
		FROM subscriptions
	`

	var st models.SubscriptionStats
	err := r.q.QueryRow(ctx, query, now, now.Add(horizon)).Scan(&st.Total, &st.Active, &st.Expired, &st.ExpiringSoon)
	if err != nil {
		return nil, fmt.Errorf("failed to count subscriptions: %w", database.MapPostgresError(err))
	}
	return &st, nil
}

// --- payments ---

type paymentRepo struct {
	q database.Querier
}

const paymentColumns = `id, user_id, method_id, sender_name, sender_phone, transaction_reference,
	amount, currency, payment_date, receipt_path, status, reviewed_by, review_notes, reviewed_at,
	subscription_id, created_at`

func scanPaymentRow(scanner rowScanner) (*models.Payment, error) {
	var p models.Payment

	err := scanner.Scan(
		&p.ID, &p.UserID, &p.MethodID, &p.SenderName, &p.SenderPhone, &p.TransactionReference,
		&p.Amount, &p.Currency, &p.PaymentDate, &p.ReceiptPath, &p.Status,
		&p.ReviewedBy, &p.ReviewNotes, &p.ReviewedAt, &p.SubscriptionID, &p.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &p, nil
}

func scanPaymentRows(rows pgx.Rows) ([]*models.Payment, error) {
	defer rows.Close()

	payments := make([]*models.Payment, 0)
	for rows.Next() {
		p, err := scanPaymentRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		payments = append(payments, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return payments, nil
}

func (r *paymentRepo) Create(ctx context.Context, p *models.Payment) error {
	query := `
		INSERT INTO payments (id, user_id, method_id, sender_name, sender_phone, transaction_reference,
			amount, currency, payment_date, receipt_path, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := r.q.Exec(ctx, query,
		p.ID, p.UserID, p.MethodID, p.SenderName, p.SenderPhone, p.TransactionReference,
		p.Amount, p.Currency, p.PaymentDate, p.ReceiptPath, p.Status, p.CreatedAt,
	)
	if err != nil {
		mapped := database.MapPostgresError(err)
		if errors.Is(mapped, models.ErrConflict) {
			return models.ErrPendingPaymentExists
		}
		return fmt.Errorf("failed to create payment: %w", mapped)
	}
	return nil
}

func (r *paymentRepo) GetByID(ctx context.Context, id string) (*models.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`
	return scanPaymentRow(r.q.QueryRow(ctx, query, id))
}

func (r *paymentRepo) GetByIDForUpdate(ctx context.Context, id string) (*models.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1 FOR UPDATE`
	return scanPaymentRow(r.q.QueryRow(ctx, query, id))
}

func (r *paymentRepo) GetPendingByUser(ctx context.Context, userID string) (*models.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE user_id = $1 AND status = 'pending'`
	return scanPaymentRow(r.q.QueryRow(ctx, query, userID))
}

func (r *paymentRepo) ListByUser(ctx context.Context, userID string) ([]*models.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE user_id = $1 ORDER BY created_at DESC`

	rows, err := r.q.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	return scanPaymentRows(rows)
}

func (r *paymentRepo) ListByStatus(ctx context.Context, status string, limit, offset int) ([]*models.Payment, error) {
	query := `SELECT ` + paymentColumns + `
		FROM payments WHERE ($1 = '' OR status = $1)
		ORDER BY created_at LIMIT $2 OFFSET $3`

	rows, err := r.q.Query(ctx, query, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	return scanPaymentRows(rows)
}

func (r *paymentRepo) UpdateReview(ctx context.Context, p *models.Payment) error {
	query := `
		UPDATE payments
		SET status = $2, reviewed_by = $3, review_notes = $4, reviewed_at = $5, subscription_id = $6
		WHERE id = $1 AND status = 'pending'
	`

	tag, err := r.q.Exec(ctx, query, p.ID, p.Status, p.ReviewedBy, p.ReviewNotes, p.ReviewedAt, p.SubscriptionID)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrAlreadyReviewed
	}
	return nil
}

// --- payment methods ---

type paymentMethodRepo struct {
	q database.Querier
}

const paymentMethodColumns = `id, name, account_number, account_holder, qr_image_path, notes,
	is_active, display_order, created_at, updated_at`

func scanPaymentMethodRow(scanner rowScanner) (*models.PaymentMethod, error) {
	var m models.PaymentMethod

	err := scanner.Scan(
		&m.ID, &m.Name, &m.AccountNumber, &m.AccountHolder, &m.QRImagePath, &m.Notes,
		&m.IsActive, &m.DisplayOrder, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &m, nil
}

func (r *paymentMethodRepo) Create(ctx context.Context, m *models.PaymentMethod) error {
	query := `
		INSERT INTO payment_methods (id, name, account_number, account_holder, qr_image_path, notes,
			is_active, display_order, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.q.Exec(ctx, query,
		m.ID, m.Name, m.AccountNumber, m.AccountHolder, m.QRImagePath, m.Notes,
		m.IsActive, m.DisplayOrder, m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create payment method: %w", database.MapPostgresError(err))
	}
	return nil
}

func (r *paymentMethodRepo) GetByID(ctx context.Context, id string) (*models.PaymentMethod, error) {
	query := `SELECT ` + paymentMethodColumns + ` FROM payment_methods WHERE id = $1`
	return scanPaymentMethodRow(r.q.QueryRow(ctx, query, id))
}

func (r *paymentMethodRepo) List(ctx context.Context, activeOnly bool) ([]*models.PaymentMethod, error) {
	query := `SELECT ` + paymentMethodColumns + `
		FROM payment_methods WHERE (NOT $1 OR is_active)
		ORDER BY display_order, created_at`

	rows, err := r.q.Query(ctx, query, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("failed to query payment methods: %w", err)
	}
	defer rows.Close()

	methods := make([]*models.PaymentMethod, 0)
	for rows.Next() {
		m, err := scanPaymentMethodRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment method: %w", err)
		}
		methods = append(methods, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return methods, nil
}

func (r *paymentMethodRepo) Update(ctx context.Context, m *models.PaymentMethod) error {
	query := `
		UPDATE payment_methods
		SET name = $2, account_number = $3, account_holder = $4, qr_image_path = $5, notes = $6,
		    is_active = $7, display_order = $8, updated_at = $9
		WHERE id = $1
	`

	tag, err := r.q.Exec(ctx, query,
		m.ID, m.Name, m.AccountNumber, m.AccountHolder, m.QRImagePath, m.Notes,
		m.IsActive, m.DisplayOrder, m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update payment method: %w", database.MapPostgresError(err))
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (r *paymentMethodRepo) Delete(ctx context.Context, id string) error {
	tag, err := r.q.Exec(ctx, `DELETE FROM payment_methods WHERE id = $1`, id)
	if err != nil {
		// payments reference methods with ON DELETE RESTRICT
		if errors.Is(database.MapPostgresError(err), models.ErrBadRequest) {
			return fmt.Errorf("payment method is referenced by payments: %w", models.ErrConflict)
		}
		return fmt.Errorf("failed to delete payment method: %w", database.MapPostgresError(err))
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}
