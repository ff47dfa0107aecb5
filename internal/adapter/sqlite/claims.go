package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/neomorfeo/lifecycled/internal/domain"
)

// eligibilityClause renders domain.Eligibility as a WHERE fragment over
// life_cycle_instances, so it can sit inside a single UPDATE statement.
func eligibilityClause(e domain.Eligibility) (string, []any) {
	now := formatTime(e.Now)

	var b strings.Builder
	b.WriteString(`EXISTS (SELECT 1 FROM life_cycles lc
		WHERE lc.id = life_cycle_instances.life_cycle_id
		  AND lc.active = 1
		  AND lc.starts_at < ?
		  AND (lc.ends_at > ? OR lc.ends_at IS NULL)`)
	if e.OnlyByCron {
		b.WriteString(`
		  AND lc.activate_by_cron = 1`)
	}
	b.WriteString(`)
	AND (life_cycle_instances.executes_at IS NULL
	     OR life_cycle_instances.executes_at BETWEEN ? AND ?)`)

	return b.String(), []any{now, now, formatTime(e.WindowStart), formatTime(e.WindowEnd)}
}

// AssignFirstStages points every eligible stageless instance at the
// minimum-order stage of its life cycle in one statement.
func (s *Store) AssignFirstStages(ctx context.Context, e domain.Eligibility) (int64, error) {
	clause, args := eligibilityClause(e)

	query := `UPDATE life_cycle_instances
		SET current_stage_id = (
		        SELECT st.id FROM life_cycle_stages st
		        WHERE st.life_cycle_id = life_cycle_instances.life_cycle_id
		        ORDER BY st."order" ASC LIMIT 1),
		    updated_at = ?
		WHERE current_stage_id IS NULL
		  AND EXISTS (SELECT 1 FROM life_cycle_stages st
		              WHERE st.life_cycle_id = life_cycle_instances.life_cycle_id)
		  AND ` + clause

	res, err := s.db.ExecContext(ctx, query, append([]any{formatTime(e.Now)}, args...)...)
	if err != nil {
		return 0, fmt.Errorf("assigning first stages: %w", err)
	}
	return res.RowsAffected()
}

// ClaimBatch moves eligible pending instances to processing under batchID.
// The pending precondition and the write are one statement, so a row can
// only ever be claimed by one batch.
func (s *Store) ClaimBatch(ctx context.Context, batchID string, e domain.Eligibility) (int64, error) {
	clause, args := eligibilityClause(e)
	now := formatTime(e.Now)

	query := `UPDATE life_cycle_instances
		SET state = ?, batch_id = ?, claimed_at = ?, updated_at = ?
		WHERE state = ? AND ` + clause

	head := []any{string(domain.StateProcessing), batchID, now, now, string(domain.StatePending)}
	res, err := s.db.ExecContext(ctx, query, append(head, args...)...)
	if err != nil {
		return 0, fmt.Errorf("claiming batch %s: %w", batchID, err)
	}
	return res.RowsAffected()
}

// ClaimedPage returns one keyset page of a claimed batch with the current
// stage resolved. Rows are fully read before returning.
func (s *Store) ClaimedPage(ctx context.Context, q domain.PageQuery) ([]domain.Instance, error) {
	clause, args := eligibilityClause(q.Eligibility)

	query := `SELECT ` + instanceColumns + `,
		       st.id, st."order", st.handler, st.delay_seconds
		FROM life_cycle_instances
		LEFT JOIN life_cycle_stages st ON st.id = life_cycle_instances.current_stage_id
		WHERE life_cycle_instances.state = ?
		  AND life_cycle_instances.batch_id = ?
		  AND life_cycle_instances.id > ?
		  AND ` + clause + `
		ORDER BY life_cycle_instances.id ASC
		LIMIT ?`

	all := append([]any{string(domain.StateProcessing), q.BatchID, q.AfterID}, args...)
	all = append(all, q.Limit)

	rows, err := s.db.QueryContext(ctx, query, all...)
	if err != nil {
		return nil, fmt.Errorf("paging batch %s: %w", q.BatchID, err)
	}
	defer rows.Close()

	var page []domain.Instance
	for rows.Next() {
		var (
			stageID    sql.NullString
			stageOrder sql.NullInt64
			handler    sql.NullString
			delay      sql.NullInt64
		)
		inst, err := scanInstance(rows, &stageID, &stageOrder, &handler, &delay)
		if err != nil {
			return nil, err
		}
		if stageID.Valid {
			inst.CurrentStage = &domain.Stage{
				ID:          stageID.String,
				LifeCycleID: inst.LifeCycleID,
				Order:       int(stageOrder.Int64),
				Handler:     handler.String,
				Delay:       secondsDuration(delay.Int64),
			}
		}
		page = append(page, inst)
	}
	return page, rows.Err()
}
