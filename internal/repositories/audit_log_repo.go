package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/tradergate/internal/database"
	"github.com/BradenHooton/tradergate/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditLogRepository handles audit log data access
type AuditLogRepository struct {
	pool *pgxpool.Pool
}

// NewAuditLogRepository creates a new AuditLogRepository
func NewAuditLogRepository(db *database.DB) *AuditLogRepository {
	return &AuditLogRepository{pool: db.Pool}
}

const auditColumns = `id, event_type, audit_type, actor_id, username, success, failure_reason,
	ip_address, user_agent, metadata, created_at`

// scanAuditLogRow populates an AuditEntry from a database row
func scanAuditLogRow(row rowScanner) (*models.AuditEntry, error) {
	var e models.AuditEntry

	err := row.Scan(
		&e.ID, &e.EventType, &e.AuditType, &e.ActorID, &e.Username, &e.Success, &e.FailureReason,
		&e.IPAddress, &e.UserAgent, &e.Metadata, &e.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &e, nil
}

func scanAuditLogRows(rows pgx.Rows) ([]*models.AuditEntry, error) {
	defer rows.Close()

	entries := make([]*models.AuditEntry, 0)
	for rows.Next() {
		e, err := scanAuditLogRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit log rows: %w", err)
	}

	return entries, nil
}

// Create inserts one audit entry
func (r *AuditLogRepository) Create(ctx context.Context, e *models.AuditEntry) error {
	query := `
		INSERT INTO audit_logs (id, event_type, audit_type, actor_id, username, success, failure_reason,
			ip_address, user_agent, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	metadata := e.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}

	_, err := r.pool.Exec(ctx, query,
		e.ID, e.EventType, e.AuditType, e.ActorID, e.Username, e.Success, e.FailureReason,
		e.IPAddress, e.UserAgent, metadata, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create audit log: %w", database.MapPostgresError(err))
	}
	return nil
}

// List returns entries matching the filter, newest first, with the total
// number of matches.
func (r *AuditLogRepository) List(ctx context.Context, f models.AuditFilter) ([]*models.AuditEntry, int64, error) {
	where := `
		WHERE ($1 = '' OR event_type = $1)
		  AND ($2 = '' OR actor_id::text = $2)
		  AND ($3::timestamptz IS NULL OR created_at >= $3)
		  AND ($4::timestamptz IS NULL OR created_at <= $4)
	`
	args := []any{f.EventType, f.ActorID, f.From, f.To}

	var total int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM audit_logs`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count audit logs: %w", err)
	}

	query := `SELECT ` + auditColumns + ` FROM audit_logs` + where + `
		ORDER BY created_at DESC LIMIT $5 OFFSET $6`

	rows, err := r.pool.Query(ctx, query, append(args, f.Limit, f.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query audit logs: %w", err)
	}

	entries, err := scanAuditLogRows(rows)
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

// ListByEventTypes returns the newest entries of the given types since a cutoff
func (r *AuditLogRepository) ListByEventTypes(ctx context.Context, types []string, since time.Time, limit int) ([]*models.AuditEntry, error) {
	query := `SELECT ` + auditColumns + `
		FROM audit_logs
		WHERE event_type = ANY($1) AND created_at >= $2
		ORDER BY created_at DESC
		LIMIT $3`

	rows, err := r.pool.Query(ctx, query, types, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query security events: %w", err)
	}
	return scanAuditLogRows(rows)
}

// CountSuccessByEventType counts entries per event type since a cutoff,
// split by outcome. Keys are "<event_type>:ok" and "<event_type>:fail".
func (r *AuditLogRepository) CountSuccessByEventType(ctx context.Context, types []string, since time.Time) (map[string]int64, error) {
	query := `
		SELECT event_type, success, COUNT(*)
		FROM audit_logs
		WHERE event_type = ANY($1) AND created_at >= $2
		GROUP BY event_type, success
	`

	rows, err := r.pool.Query(ctx, query, types, since)
	if err != nil {
		return nil, fmt.Errorf("failed to count audit logs: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var (
			eventType string
			success   bool
			n         int64
		)
		if err := rows.Scan(&eventType, &success, &n); err != nil {
			return nil, fmt.Errorf("failed to scan audit count: %w", err)
		}
		if success {
			counts[eventType+":ok"] += n
		} else {
			counts[eventType+":fail"] += n
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit counts: %w", err)
	}
	return counts, nil
}

// DeleteOlderThan removes entries created before cutoff
func (r *AuditLogRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM audit_logs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup audit logs: %w", err)
	}
	return tag.RowsAffected(), nil
}
