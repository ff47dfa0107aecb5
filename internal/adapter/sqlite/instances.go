package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/neomorfeo/lifecycled/internal/domain"
)

// instanceColumns is table-qualified so it survives joins with stages.
const instanceColumns = `life_cycle_instances.id,
	life_cycle_instances.life_cycle_id,
	life_cycle_instances.current_stage_id,
	life_cycle_instances.state,
	life_cycle_instances.batch_id,
	life_cycle_instances.executes_at,
	life_cycle_instances.attempts,
	life_cycle_instances.payload,
	life_cycle_instances.subject_type,
	life_cycle_instances.subject_id,
	life_cycle_instances.claimed_at,
	life_cycle_instances.created_at,
	life_cycle_instances.updated_at`

func (s *Store) CreateInstance(ctx context.Context, inst domain.Instance) error {
	payload := string(inst.Payload)
	if payload == "" {
		payload = "{}"
	}
	if !json.Valid([]byte(payload)) {
		return fmt.Errorf("inserting instance: payload is not valid JSON")
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO life_cycle_instances
		     (id, life_cycle_id, current_stage_id, state, batch_id, executes_at, attempts,
		      payload, subject_type, subject_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inst.ID, inst.LifeCycleID, stringOrNull(inst.CurrentStageID), string(inst.State), stringOrNull(inst.BatchID),
		formatNullableTime(inst.ExecutesAt), inst.Attempts, payload,
		inst.Subject.Type, inst.Subject.ID,
		formatTime(inst.CreatedAt), formatTime(inst.UpdatedAt),
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return domain.ErrLifeCycleNotFound
		}
		return fmt.Errorf("inserting instance: %w", err)
	}
	return nil
}

func (s *Store) GetInstance(ctx context.Context, id string) (domain.Instance, error) {
	inst, err := scanInstance(s.db.QueryRowContext(ctx,
		`SELECT `+instanceColumns+` FROM life_cycle_instances WHERE id = ?`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Instance{}, domain.ErrInstanceNotFound
	}
	return inst, err
}

func (s *Store) ListInstances(ctx context.Context, filter domain.InstanceFilter) ([]domain.Instance, error) {
	query := `SELECT ` + instanceColumns + ` FROM life_cycle_instances`
	var args []any

	if filter.LifeCycleCode != "" {
		query += ` JOIN life_cycles ON life_cycles.id = life_cycle_instances.life_cycle_id AND life_cycles.code = ?`
		args = append(args, filter.LifeCycleCode)
	}

	if filter.State != nil {
		query += ` WHERE life_cycle_instances.state = ?`
		args = append(args, string(*filter.State))
	}

	query += ` ORDER BY life_cycle_instances.id ASC`

	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	if filter.Offset > 0 {
		if filter.Limit <= 0 {
			query += ` LIMIT -1`
		}
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	return s.queryInstances(ctx, "listing instances", query, args...)
}

// ApplyChange is the executor-side compare-and-set. Leaving processing
// always clears the batch id, and a change from processing only applies to
// the claim it was read under.
func (s *Store) ApplyChange(ctx context.Context, c domain.InstanceChange) error {
	now := formatTime(time.Now())

	query := `UPDATE life_cycle_instances SET state = ?, updated_at = ?`
	args := []any{string(c.To), now}

	if c.To != domain.StateProcessing {
		query += `, batch_id = NULL, claimed_at = NULL`
	}
	if c.StageID != "" {
		query += `, current_stage_id = ?`
		args = append(args, c.StageID)
	}
	if c.ResetAttempts {
		query += `, attempts = 0`
	}
	if c.SetExecutesAt {
		query += `, executes_at = ?`
		args = append(args, formatNullableTime(c.ExecutesAt))
	}

	query += ` WHERE id = ? AND state = ?`
	args = append(args, c.ID, string(c.From))
	if c.From == domain.StateProcessing {
		query += ` AND batch_id = ?`
		args = append(args, c.BatchID)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating instance %s: %w", c.ID, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		if _, err := s.GetInstance(ctx, c.ID); err != nil {
			return err
		}
		return domain.ErrStaleInstance
	}
	return nil
}

func (s *Store) IncrementAttempts(ctx context.Context, id string) (int, error) {
	var attempts int
	err := s.db.QueryRowContext(ctx,
		`UPDATE life_cycle_instances SET attempts = attempts + 1, updated_at = ?
		 WHERE id = ? RETURNING attempts`,
		formatTime(time.Now()), id,
	).Scan(&attempts)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, domain.ErrInstanceNotFound
		}
		return 0, fmt.Errorf("incrementing attempts: %w", err)
	}
	return attempts, nil
}

func (s *Store) StaleClaims(ctx context.Context, cutoff time.Time, afterID string, limit int) ([]domain.Instance, error) {
	return s.queryInstances(ctx, "listing stale claims",
		`SELECT `+instanceColumns+` FROM life_cycle_instances
		 WHERE state = ? AND claimed_at < ? AND id > ?
		 ORDER BY id ASC LIMIT ?`,
		string(domain.StateProcessing), formatTime(cutoff), afterID, limit,
	)
}

func (s *Store) TouchClaim(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE life_cycle_instances SET claimed_at = ?, updated_at = ?
		 WHERE id = ? AND state = ?`,
		formatTime(at), formatTime(at), id, string(domain.StateProcessing),
	)
	if err != nil {
		return fmt.Errorf("touching claim %s: %w", id, err)
	}
	return nil
}

func (s *Store) queryInstances(ctx context.Context, op, query string, args ...any) ([]domain.Instance, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var out []domain.Instance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

// scanInstance scans instanceColumns followed by any extra destinations.
// sql.ErrNoRows is returned unwrapped so callers can map it.
func scanInstance(row rowScanner, extra ...any) (domain.Instance, error) {
	var inst domain.Instance
	var (
		stageID, batchID, executesAt, claimedAt sql.NullString
		state, payload, createdAt, updatedAt    string
	)

	dest := []any{
		&inst.ID, &inst.LifeCycleID, &stageID, &state, &batchID, &executesAt,
		&inst.Attempts, &payload, &inst.Subject.Type, &inst.Subject.ID,
		&claimedAt, &createdAt, &updatedAt,
	}
	err := row.Scan(append(dest, extra...)...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Instance{}, err
		}
		return domain.Instance{}, fmt.Errorf("scanning instance: %w", err)
	}

	inst.CurrentStageID = nullableString(stageID)
	inst.State = domain.State(state)
	inst.BatchID = nullableString(batchID)
	inst.ExecutesAt = parseNullableTime(executesAt)
	inst.Payload = json.RawMessage(payload)
	inst.ClaimedAt = parseNullableTime(claimedAt)
	inst.CreatedAt = parseTime(createdAt)
	inst.UpdatedAt = parseTime(updatedAt)

	return inst, nil
}
