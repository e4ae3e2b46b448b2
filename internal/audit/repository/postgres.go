package repository

import (
	"context"
	"database/sql"

	"totp-mfa-demo/internal/audit/domain"
)

const (
	insertAuditLog = `INSERT INTO audit_logs (id, user_id, action, resource, outcome, ip, metadata, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	listAuditLogsByUser = `SELECT id, user_id, action, resource, outcome, ip, metadata, created_at
FROM audit_logs WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`
)

// PostgresRepository stores audit logs in the audit_logs table.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an audit log repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create persists the audit log. The audit log must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, a *domain.AuditLog) error {
	uid := sql.NullString{String: a.UserID, Valid: a.UserID != ""}
	meta := sql.NullString{String: a.Metadata, Valid: a.Metadata != ""}
	_, err := r.db.ExecContext(ctx, insertAuditLog,
		a.ID, uid, a.Action, a.Resource, a.Outcome, a.IP, meta, a.CreatedAt)
	return err
}

// ListByUser returns the newest audit logs of userID, at most limit.
func (r *PostgresRepository) ListByUser(ctx context.Context, userID string, limit int32) ([]*domain.AuditLog, error) {
	rows, err := r.db.QueryContext(ctx, listAuditLogsByUser, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.AuditLog
	for rows.Next() {
		var (
			a    domain.AuditLog
			uid  sql.NullString
			meta sql.NullString
		)
		if err := rows.Scan(&a.ID, &uid, &a.Action, &a.Resource, &a.Outcome, &a.IP, &meta, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.UserID = uid.String
		a.Metadata = meta.String
		out = append(out, &a)
	}
	return out, rows.Err()
}
