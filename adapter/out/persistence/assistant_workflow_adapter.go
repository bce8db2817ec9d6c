package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/goccy/go-json"
	"github.com/jmoiron/sqlx"

	"assistant_server/core/domain"
)

// WorkflowAdapter implements out.WorkflowRepository using PostgreSQL.
type WorkflowAdapter struct {
	db *sqlx.DB
}

// NewWorkflowAdapter creates a new workflow mapping adapter.
func NewWorkflowAdapter(db *sqlx.DB) *WorkflowAdapter {
	return &WorkflowAdapter{db: db}
}

type workflowRow struct {
	ID            int64         `db:"id"`
	EmailID       int64         `db:"email_id"`
	UserID        int64         `db:"user_id"`
	ThreadID      string        `db:"thread_id"`
	ChatMessageID sql.NullInt64 `db:"chat_message_id"`
	State         string        `db:"workflow_state"`
	CreatedAt     time.Time     `db:"created_at"`
	UpdatedAt     time.Time     `db:"updated_at"`
}

const workflowColumns = `id, email_id, user_id, thread_id, chat_message_id, workflow_state, created_at, updated_at`

func (r *workflowRow) toDomain() *domain.WorkflowMapping {
	m := &domain.WorkflowMapping{
		ID:        r.ID,
		EmailID:   r.EmailID,
		UserID:    r.UserID,
		ThreadID:  r.ThreadID,
		State:     domain.WorkflowState(r.State),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if r.ChatMessageID.Valid {
		id := int(r.ChatMessageID.Int64)
		m.ChatMessageID = &id
	}
	return m
}

// Create inserts a mapping for a new workflow run.
func (a *WorkflowAdapter) Create(ctx context.Context, m *domain.WorkflowMapping) error {
	query := `
		INSERT INTO workflow_mappings (email_id, user_id, thread_id, workflow_state, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		RETURNING id, created_at, updated_at
	`
	state := m.State
	if state == "" {
		state = domain.WorkflowStateCreated
	}
	err := a.db.QueryRowxContext(ctx, query, m.EmailID, m.UserID, m.ThreadID, string(state)).
		Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return err
	}
	m.State = state
	return nil
}

// GetByEmailID returns the mapping for the given queue row.
func (a *WorkflowAdapter) GetByEmailID(ctx context.Context, emailID int64) (*domain.WorkflowMapping, error) {
	var row workflowRow
	query := `SELECT ` + workflowColumns + ` FROM workflow_mappings WHERE email_id = $1`
	if err := a.db.GetContext(ctx, &row, query, emailID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return row.toDomain(), nil
}

// GetByThreadID returns the mapping for the given workflow run.
func (a *WorkflowAdapter) GetByThreadID(ctx context.Context, threadID string) (*domain.WorkflowMapping, error) {
	var row workflowRow
	query := `SELECT ` + workflowColumns + ` FROM workflow_mappings WHERE thread_id = $1`
	if err := a.db.GetContext(ctx, &row, query, threadID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return row.toDomain(), nil
}

// UpdateState records an externally visible state transition.
func (a *WorkflowAdapter) UpdateState(ctx context.Context, emailID int64, state domain.WorkflowState) error {
	result, err := a.db.ExecContext(ctx,
		`UPDATE workflow_mappings SET workflow_state = $1, updated_at = NOW() WHERE email_id = $2`,
		string(state), emailID)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetChatMessageID stores (or replaces) the live chat message id.
func (a *WorkflowAdapter) SetChatMessageID(ctx context.Context, emailID int64, messageID int) error {
	result, err := a.db.ExecContext(ctx,
		`UPDATE workflow_mappings SET chat_message_id = $1, updated_at = NOW() WHERE email_id = $2`,
		messageID, emailID)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CheckpointAdapter implements out.CheckpointStore using PostgreSQL.
type CheckpointAdapter struct {
	db *sqlx.DB
}

// NewCheckpointAdapter creates a new checkpoint adapter.
func NewCheckpointAdapter(db *sqlx.DB) *CheckpointAdapter {
	return &CheckpointAdapter{db: db}
}

type checkpointRow struct {
	ID        int64     `db:"id"`
	ThreadID  string    `db:"thread_id"`
	Step      int       `db:"step"`
	Node      string    `db:"node"`
	State     []byte    `db:"state"`
	CreatedAt time.Time `db:"created_at"`
}

// Save writes a checkpoint for (thread_id, step), overwriting an
// existing one at the same step.
func (a *CheckpointAdapter) Save(ctx context.Context, cp *domain.WorkflowCheckpoint) error {
	stateBytes, err := json.Marshal(cp.State)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO workflow_checkpoints (thread_id, step, node, state, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (thread_id, step)
		DO UPDATE SET node = EXCLUDED.node, state = EXCLUDED.state, created_at = NOW()
		RETURNING id, created_at
	`
	return a.db.QueryRowxContext(ctx, query, cp.ThreadID, cp.Step, cp.Node, stateBytes).
		Scan(&cp.ID, &cp.CreatedAt)
}

// Latest returns the highest-step checkpoint for the run, or nil.
func (a *CheckpointAdapter) Latest(ctx context.Context, threadID string) (*domain.WorkflowCheckpoint, error) {
	var row checkpointRow
	query := `
		SELECT id, thread_id, step, node, state, created_at
		FROM workflow_checkpoints
		WHERE thread_id = $1
		ORDER BY step DESC
		LIMIT 1
	`
	if err := a.db.GetContext(ctx, &row, query, threadID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	cp := &domain.WorkflowCheckpoint{
		ID:        row.ID,
		ThreadID:  row.ThreadID,
		Step:      row.Step,
		Node:      row.Node,
		CreatedAt: row.CreatedAt,
	}
	if len(row.State) > 0 {
		if err := json.Unmarshal(row.State, &cp.State); err != nil {
			return nil, err
		}
	}
	return cp, nil
}
