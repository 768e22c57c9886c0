package history

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
)

type Repository interface {
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, limit int) ([]*Run, error)
	UpdateRunTask(ctx context.Context, id, taskID string) error
	FinishRun(ctx context.Context, id, status, resultURL, errorMsg string) error

	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
}

type SQLiteRepository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

type runRow struct {
	ID          string         `db:"id"`
	TaskID      sql.NullString `db:"task_id"`
	FileName    string         `db:"file_name"`
	ContentType string         `db:"content_type"`
	SizeBytes   int64          `db:"size_bytes"`
	Status      string         `db:"status"`
	ResultURL   sql.NullString `db:"result_url"`
	Error       sql.NullString `db:"error"`
	Regenerated int            `db:"regenerated"`
	CreatedAt   string         `db:"created_at"`
	UpdatedAt   string         `db:"updated_at"`
}

func (r runRow) toRun() *Run {
	createdAt, _ := time.Parse(timeLayout, r.CreatedAt)
	updatedAt, _ := time.Parse(timeLayout, r.UpdatedAt)
	return &Run{
		ID:          r.ID,
		TaskID:      r.TaskID.String,
		FileName:    r.FileName,
		ContentType: r.ContentType,
		SizeBytes:   r.SizeBytes,
		Status:      r.Status,
		ResultURL:   r.ResultURL.String,
		Error:       r.Error.String,
		Regenerated: r.Regenerated == 1,
		CreatedAt:   createdAt,
		UpdatedAt:   updatedAt,
	}
}

const runColumns = `id, task_id, file_name, content_type, size_bytes, status, result_url, error, regenerated, created_at, updated_at`

func (r *SQLiteRepository) CreateRun(ctx context.Context, run *Run) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO runs (`+runColumns+`)
		VALUES (:id, :task_id, :file_name, :content_type, :size_bytes, :status, :result_url, :error, :regenerated, :created_at, :updated_at)
	`, runRow{
		ID:          run.ID,
		TaskID:      nullString(run.TaskID),
		FileName:    run.FileName,
		ContentType: run.ContentType,
		SizeBytes:   run.SizeBytes,
		Status:      run.Status,
		ResultURL:   nullString(run.ResultURL),
		Error:       nullString(run.Error),
		Regenerated: boolToInt(run.Regenerated),
		CreatedAt:   formatTime(run.CreatedAt),
		UpdatedAt:   formatTime(run.UpdatedAt),
	})
	return err
}

func (r *SQLiteRepository) GetRun(ctx context.Context, id string) (*Run, error) {
	var row runRow
	err := r.db.GetContext(ctx, &row, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.toRun(), nil
}

func (r *SQLiteRepository) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 50
	}

	var rows []runRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT `+runColumns+` FROM runs ORDER BY created_at DESC, id LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}

	runs := make([]*Run, 0, len(rows))
	for _, row := range rows {
		runs = append(runs, row.toRun())
	}
	return runs, nil
}

func (r *SQLiteRepository) UpdateRunTask(ctx context.Context, id, taskID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE runs SET task_id = ?, updated_at = ? WHERE id = ?
	`, taskID, formatTime(time.Now()), id)
	return err
}

func (r *SQLiteRepository) FinishRun(ctx context.Context, id, status, resultURL, errorMsg string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, result_url = ?, error = ?, updated_at = ? WHERE id = ?
	`, status, nullString(resultURL), nullString(errorMsg), formatTime(time.Now()), id)
	return err
}

func (r *SQLiteRepository) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.GetContext(ctx, &value, "SELECT value FROM config WHERE key = ?", key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

func (r *SQLiteRepository) SetConfig(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

// timeLayout is fixed width so created_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
