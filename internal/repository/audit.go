package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

type InsertAuditLogParams struct {
	EntityType string
	EntityID   uuid.UUID
	ActorID    pgtype.UUID
	Action     string
	PrevState  *string
	NextState  *string
	Metadata   []byte
}

// InsertAuditLog stores a single immutable audit record.
func (q *Queries) InsertAuditLog(ctx context.Context, arg InsertAuditLogParams) (int64, error) {
	const query = `INSERT INTO audit_log (entity_type, entity_id, actor_id, action, prev_state, next_state, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		RETURNING id`
	var id int64
	err := q.db.QueryRow(ctx, query,
		arg.EntityType,
		ToPgUUID(arg.EntityID),
		arg.ActorID,
		arg.Action,
		arg.PrevState,
		arg.NextState,
		arg.Metadata,
	).Scan(&id)
	return id, err
}

// CountAuditLog returns the number of audit entries recorded for an entity.
func (q *Queries) CountAuditLog(ctx context.Context, entityType string, entityID uuid.UUID) (int64, error) {
	const query = `SELECT COUNT(*) FROM audit_log WHERE entity_type = $1 AND entity_id = $2`
	var n int64
	err := q.db.QueryRow(ctx, query, entityType, ToPgUUID(entityID)).Scan(&n)
	return n, err
}
