package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pcharbon70/loom"
	"github.com/pcharbon70/loom/id"
	"github.com/pcharbon70/loom/run"
)

const runColumns = `
	id, run_id, project_id, workflow_name, workflow_version, status, current_step,
	status_transitions, trigger, inputs, input_metadata, initiating_actor,
	step_results, error, retry_of_run_id, retry_attempt, retry_lineage,
	started_at, completed_at, created_at, updated_at`

// Create persists a new run. The unique (project_id, run_id) index turns
// a duplicate insert into loom.ErrRunAlreadyExists, which is the backstop
// for the best-effort retry identifier probe.
func (s *Store) Create(ctx context.Context, r *run.Run) error {
	row, err := toRow(r)
	if err != nil {
		return fmt.Errorf("loom/postgres: encode run: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO loom_runs (`+runColumns+`
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11, $12,
			$13, $14, $15, $16, $17,
			$18, $19, $20, $21
		)`,
		row.args()...,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return loom.ErrRunAlreadyExists
		}
		return fmt.Errorf("loom/postgres: create run: %w", err)
	}
	return nil
}

// Get retrieves a run by surrogate ID.
func (s *Store) Get(ctx context.Context, runID id.RunID) (*run.Run, error) {
	r := s.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM loom_runs WHERE id = $1`,
		runID.String(),
	)
	out, err := scanRun(r)
	if err != nil {
		if isNoRows(err) {
			return nil, loom.ErrRunNotFound
		}
		return nil, fmt.Errorf("loom/postgres: get run: %w", err)
	}
	return out, nil
}

// FindByProjectAndRunID retrieves a run by (project_id, run_id).
func (s *Store) FindByProjectAndRunID(ctx context.Context, projectID, runID string) (*run.Run, error) {
	r := s.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM loom_runs WHERE project_id = $1 AND run_id = $2`,
		projectID, runID,
	)
	out, err := scanRun(r)
	if err != nil {
		if isNoRows(err) {
			return nil, loom.ErrRunNotFound
		}
		return nil, fmt.Errorf("loom/postgres: find run: %w", err)
	}
	return out, nil
}

// Update persists changes to an existing run.
func (s *Store) Update(ctx context.Context, r *run.Run) error {
	row, err := toRow(r)
	if err != nil {
		return fmt.Errorf("loom/postgres: encode run: %w", err)
	}
	row.UpdatedAt = time.Now().UTC()

	tag, err := s.pool.Exec(ctx, `
		UPDATE loom_runs SET
			run_id = $2, project_id = $3, workflow_name = $4, workflow_version = $5,
			status = $6, current_step = $7, status_transitions = $8, trigger = $9,
			inputs = $10, input_metadata = $11, initiating_actor = $12,
			step_results = $13, error = $14, retry_of_run_id = $15,
			retry_attempt = $16, retry_lineage = $17, started_at = $18,
			completed_at = $19, created_at = $20, updated_at = $21
		WHERE id = $1`,
		row.args()...,
	)
	if err != nil {
		return fmt.Errorf("loom/postgres: update run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return loom.ErrRunNotFound
	}
	return nil
}

// List returns runs matching the given options, ordered by creation time.
func (s *Store) List(ctx context.Context, opts run.ListOpts) ([]*run.Run, error) {
	query := `SELECT ` + runColumns + ` FROM loom_runs WHERE 1=1`
	args := []any{}

	if opts.ProjectID != "" {
		args = append(args, opts.ProjectID)
		query += fmt.Sprintf(" AND project_id = $%d", len(args))
	}
	if opts.Status != "" {
		args = append(args, string(opts.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	query += " ORDER BY created_at ASC"
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("loom/postgres: list runs: %w", err)
	}
	defer rows.Close()

	var runs []*run.Run
	for rows.Next() {
		r, scanErr := scanRun(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("loom/postgres: list runs scan: %w", scanErr)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("loom/postgres: list runs: %w", err)
	}
	return runs, nil
}

// ── Row mapping ──────────────────────────────────────────────────────

// runRow is the flat column representation of a run. JSONB columns are
// held as raw bytes.
type runRow struct {
	ID                string
	RunID             string
	ProjectID         string
	WorkflowName      string
	WorkflowVersion   int
	Status            string
	CurrentStep       string
	StatusTransitions []byte
	Trigger           []byte
	Inputs            []byte
	InputMetadata     []byte
	InitiatingActor   []byte
	StepResults       []byte
	Error             []byte
	RetryOfRunID      string
	RetryAttempt      int
	RetryLineage      []byte
	StartedAt         *time.Time
	CompletedAt       *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (w *runRow) args() []any {
	return []any{
		w.ID, w.RunID, w.ProjectID, w.WorkflowName, w.WorkflowVersion,
		w.Status, w.CurrentStep, w.StatusTransitions, w.Trigger,
		w.Inputs, w.InputMetadata, w.InitiatingActor,
		w.StepResults, w.Error, w.RetryOfRunID, w.RetryAttempt, w.RetryLineage,
		w.StartedAt, w.CompletedAt, w.CreatedAt, w.UpdatedAt,
	}
}

func toRow(r *run.Run) (*runRow, error) {
	row := &runRow{
		ID:              r.ID.String(),
		RunID:           r.RunID,
		ProjectID:       r.ProjectID,
		WorkflowName:    r.WorkflowName,
		WorkflowVersion: r.WorkflowVersion,
		Status:          string(r.Status),
		CurrentStep:     r.CurrentStep,
		RetryOfRunID:    r.RetryOfRunID,
		RetryAttempt:    r.RetryAttempt,
		CompletedAt:     r.CompletedAt,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
	if !r.StartedAt.IsZero() {
		t := r.StartedAt
		row.StartedAt = &t
	}

	var err error
	if row.StatusTransitions, err = json.Marshal(r.StatusTransitions); err != nil {
		return nil, err
	}
	if row.Trigger, err = marshalMaybe(r.Trigger); err != nil {
		return nil, err
	}
	if row.Inputs, err = marshalMaybe(r.Inputs); err != nil {
		return nil, err
	}
	if row.InputMetadata, err = marshalMaybe(r.InputMetadata); err != nil {
		return nil, err
	}
	if row.InitiatingActor, err = json.Marshal(r.InitiatingActor); err != nil {
		return nil, err
	}
	if row.StepResults, err = marshalMaybe(r.StepResults); err != nil {
		return nil, err
	}
	if r.Error != nil {
		if row.Error, err = json.Marshal(r.Error); err != nil {
			return nil, err
		}
	}
	if len(r.RetryLineage) > 0 {
		if row.RetryLineage, err = json.Marshal(r.RetryLineage); err != nil {
			return nil, err
		}
	}
	return row, nil
}

// marshalMaybe marshals a map, keeping nil maps as SQL NULL.
func marshalMaybe(m map[string]any) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func scanRun(row pgx.Row) (*run.Run, error) {
	var w runRow
	err := row.Scan(
		&w.ID, &w.RunID, &w.ProjectID, &w.WorkflowName, &w.WorkflowVersion,
		&w.Status, &w.CurrentStep, &w.StatusTransitions, &w.Trigger,
		&w.Inputs, &w.InputMetadata, &w.InitiatingActor,
		&w.StepResults, &w.Error, &w.RetryOfRunID, &w.RetryAttempt, &w.RetryLineage,
		&w.StartedAt, &w.CompletedAt, &w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return fromRow(&w)
}

func fromRow(w *runRow) (*run.Run, error) {
	parsedID, err := id.ParseRunID(w.ID)
	if err != nil {
		return nil, fmt.Errorf("parse run id %q: %w", w.ID, err)
	}

	r := &run.Run{
		Entity: loom.Entity{
			CreatedAt: w.CreatedAt,
			UpdatedAt: w.UpdatedAt,
		},
		ID:              parsedID,
		RunID:           w.RunID,
		ProjectID:       w.ProjectID,
		WorkflowName:    w.WorkflowName,
		WorkflowVersion: w.WorkflowVersion,
		Status:          run.Status(w.Status),
		CurrentStep:     w.CurrentStep,
		RetryOfRunID:    w.RetryOfRunID,
		RetryAttempt:    w.RetryAttempt,
		CompletedAt:     w.CompletedAt,
	}
	if w.StartedAt != nil {
		r.StartedAt = *w.StartedAt
	}

	if err := unmarshalMaybe(w.StatusTransitions, &r.StatusTransitions); err != nil {
		return nil, fmt.Errorf("decode status_transitions: %w", err)
	}
	if err := unmarshalMaybe(w.Trigger, &r.Trigger); err != nil {
		return nil, fmt.Errorf("decode trigger: %w", err)
	}
	if err := unmarshalMaybe(w.Inputs, &r.Inputs); err != nil {
		return nil, fmt.Errorf("decode inputs: %w", err)
	}
	if err := unmarshalMaybe(w.InputMetadata, &r.InputMetadata); err != nil {
		return nil, fmt.Errorf("decode input_metadata: %w", err)
	}
	if err := unmarshalMaybe(w.InitiatingActor, &r.InitiatingActor); err != nil {
		return nil, fmt.Errorf("decode initiating_actor: %w", err)
	}
	if err := unmarshalMaybe(w.StepResults, &r.StepResults); err != nil {
		return nil, fmt.Errorf("decode step_results: %w", err)
	}
	if err := unmarshalMaybe(w.Error, &r.Error); err != nil {
		return nil, fmt.Errorf("decode error: %w", err)
	}
	if err := unmarshalMaybe(w.RetryLineage, &r.RetryLineage); err != nil {
		return nil, fmt.Errorf("decode retry_lineage: %w", err)
	}
	return r, nil
}

// unmarshalMaybe decodes a JSONB column, leaving the target zero for
// SQL NULL.
func unmarshalMaybe(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}
