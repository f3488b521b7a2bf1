package postgres

import (
	"context"
	"fmt"

	"github.com/lancejames221b/haivemind/internal/domain/audit"
)

// AppendAuditEntry writes an immutable audit record. Audit entries are
// never updated or deleted once written.
func (s *Store) AppendAuditEntry(ctx context.Context, e audit.Entry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit_entries (actor_agent_id, actor_machine_id, operation, target_kind, target_id, outcome, reason, occurred_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		e.ActorAgentID, e.ActorMachineID, string(e.Operation), string(e.TargetKind), e.TargetID,
		string(e.Outcome), e.Reason, e.OccurredAt)
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

// ListAuditEntries returns a filtered, cursor-paginated slice of the audit trail.
func (s *Store) ListAuditEntries(ctx context.Context, f audit.Filter) (audit.Page, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = audit.DefaultPageLimit
	}
	if limit > audit.MaxPageLimit {
		limit = audit.MaxPageLimit
	}

	const q = `
		SELECT id, actor_agent_id, actor_machine_id, operation, target_kind, target_id, outcome, reason, occurred_at
		FROM audit_entries
		WHERE ($1 = '' OR actor_agent_id = $1)
			AND ($2 = '' OR target_kind = $2)
			AND ($3 = '' OR target_id = $3)
			AND ($4 = '' OR operation = $4)
			AND ($5::timestamptz IS NULL OR occurred_at >= $5)
			AND ($6::timestamptz IS NULL OR occurred_at <= $6)
			AND ($7 = '' OR id > NULLIF($7, '')::bigint)
		ORDER BY id
		LIMIT $8`

	rows, err := s.pool.Query(ctx, q,
		f.ActorAgentID, string(f.TargetKind), f.TargetID, string(f.Operation),
		nullTime(f.Since), nullTime(f.Until), f.Cursor, limit)
	if err != nil {
		return audit.Page{}, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	var page audit.Page
	for rows.Next() {
		var e audit.Entry
		if err := rows.Scan(
			&e.ID, &e.ActorAgentID, &e.ActorMachineID, &e.Operation, &e.TargetKind, &e.TargetID,
			&e.Outcome, &e.Reason, &e.OccurredAt,
		); err != nil {
			return audit.Page{}, fmt.Errorf("scan audit entry: %w", err)
		}
		page.Entries = append(page.Entries, e)
	}
	if err := rows.Err(); err != nil {
		return audit.Page{}, err
	}
	if len(page.Entries) == limit {
		page.NextCursor = page.Entries[len(page.Entries)-1].ID
	}
	page.Entries = orEmpty(page.Entries)
	return page, nil
}
