package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"audiotricks/internal/models"

	"github.com/google/uuid"
)

// JobRepository はジョブのデータアクセス層
type JobRepository struct {
	db *DB
}

// NewJobRepository は新しいJobRepositoryを作成
func NewJobRepository(db *DB) *JobRepository {
	return &JobRepository{db: db}
}

const jobColumns = `id, source_id, type, status, priority, progress, current_step, retry_count,
	result, error, created_at, started_at, completed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*models.ProcessingJob, error) {
	var (
		job         models.ProcessingJob
		sourceID    sql.NullString
		result      sql.NullString
		createdAt   int64
		startedAt   sql.NullInt64
		completedAt sql.NullInt64
	)
	err := row.Scan(&job.ID, &sourceID, &job.Type, &job.Status, &job.Priority, &job.Progress,
		&job.CurrentStep, &job.RetryCount, &result, &job.Error, &createdAt, &startedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	job.SourceID = sourceID.String
	if result.Valid && result.String != "" {
		job.Result = json.RawMessage(result.String)
	}
	job.CreatedAt = fromMillis(createdAt)
	job.StartedAt = timePtr(startedAt)
	job.CompletedAt = timePtr(completedAt)
	return &job, nil
}

func (r *JobRepository) queryJobs(ctx context.Context, query string, args ...any) ([]models.ProcessingJob, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	jobs := []models.ProcessingJob{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// Create は新しいジョブを作成
func (r *JobRepository) Create(ctx context.Context, job *models.ProcessingJob) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	job.CreatedAt = time.Now()
	if job.Status == "" {
		job.Status = models.JobStatusQueued
	}

	_, err := r.db.ExecContext(ctx, `INSERT INTO processing_jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, nullString(job.SourceID), job.Type, job.Status, job.Priority, job.Progress,
		job.CurrentStep, job.RetryCount, nullString(string(job.Result)), job.Error,
		toMillis(job.CreatedAt), nullMillis(job.StartedAt), nullMillis(job.CompletedAt))
	return err
}

// GetByID はIDでジョブを取得
func (r *JobRepository) GetByID(ctx context.Context, id string) (*models.ProcessingJob, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM processing_jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

// GetNextQueued は次に処理すべきキュー済みジョブを取得（優先度順）
func (r *JobRepository) GetNextQueued(ctx context.Context) (*models.ProcessingJob, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM processing_jobs
		WHERE status = ? ORDER BY priority ASC, created_at ASC LIMIT 1`, models.JobStatusQueued)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

// Start はジョブを開始状態にする
func (r *JobRepository) Start(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE processing_jobs
		SET status = ?, started_at = ?, progress = 0, current_step = '' WHERE id = ?`,
		models.JobStatusProcessing, toMillis(time.Now()), id)
	return err
}

// UpdateProgress はジョブの進捗を更新
func (r *JobRepository) UpdateProgress(ctx context.Context, id string, progress int) error {
	_, err := r.db.ExecContext(ctx, `UPDATE processing_jobs SET progress = ? WHERE id = ?`, clampProgress(progress), id)
	return err
}

// UpdateProgressWithStep はジョブの進捗とステップを更新
func (r *JobRepository) UpdateProgressWithStep(ctx context.Context, id string, progress int, step string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE processing_jobs SET progress = ?, current_step = ? WHERE id = ?`,
		clampProgress(progress), step, id)
	return err
}

// Complete はジョブを完了状態にし、結果を保存する
func (r *JobRepository) Complete(ctx context.Context, id string, result json.RawMessage) error {
	_, err := r.db.ExecContext(ctx, `UPDATE processing_jobs
		SET status = ?, progress = 100, current_step = '', result = ?, error = '', completed_at = ? WHERE id = ?`,
		models.JobStatusCompleted, nullString(string(result)), toMillis(time.Now()), id)
	return err
}

// Fail はジョブを失敗状態にする
func (r *JobRepository) Fail(ctx context.Context, id string, errorMsg string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE processing_jobs
		SET status = ?, error = ?, completed_at = ? WHERE id = ?`,
		models.JobStatusFailed, errorMsg, toMillis(time.Now()), id)
	return err
}

// Retry はジョブを再試行キューに戻す
func (r *JobRepository) Retry(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE processing_jobs
		SET status = ?, retry_count = retry_count + 1, progress = 0, current_step = '', started_at = NULL
		WHERE id = ?`, models.JobStatusQueued, id)
	return err
}

// RequeueInterrupted は処理中のまま停止したジョブをキューに戻す
func (r *JobRepository) RequeueInterrupted(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE processing_jobs
		SET status = ?, progress = 0, current_step = '', started_at = NULL WHERE status = ?`,
		models.JobStatusQueued, models.JobStatusProcessing)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// GetBySourceID はソースIDでジョブ一覧を取得
func (r *JobRepository) GetBySourceID(ctx context.Context, sourceID string) ([]models.ProcessingJob, error) {
	return r.queryJobs(ctx, `SELECT `+jobColumns+` FROM processing_jobs
		WHERE source_id = ? ORDER BY created_at DESC`, sourceID)
}

// ListByStatus はステータスでジョブ一覧を取得
func (r *JobRepository) ListByStatus(ctx context.Context, status string, limit int) ([]models.ProcessingJob, error) {
	if limit == 0 {
		limit = 50
	}
	return r.queryJobs(ctx, `SELECT `+jobColumns+` FROM processing_jobs
		WHERE status = ? ORDER BY created_at DESC LIMIT ?`, status, limit)
}

// ListRecent は最近のジョブ一覧を取得
func (r *JobRepository) ListRecent(ctx context.Context, limit int) ([]models.ProcessingJob, error) {
	if limit == 0 {
		limit = 50
	}
	return r.queryJobs(ctx, `SELECT `+jobColumns+` FROM processing_jobs
		ORDER BY created_at DESC LIMIT ?`, limit)
}

// Delete はジョブを削除
func (r *JobRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM processing_jobs WHERE id = ?`, id)
	return err
}

// CleanupCompleted は完了済みジョブを削除（指定日数より古いもの）
func (r *JobRepository) CleanupCompleted(ctx context.Context, olderThanDays int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -olderThanDays)
	res, err := r.db.ExecContext(ctx, `DELETE FROM processing_jobs
		WHERE status IN (?, ?) AND completed_at < ?`,
		models.JobStatusCompleted, models.JobStatusFailed, toMillis(cutoff))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CountByStatus はステータスごとのジョブ数を取得
func (r *JobRepository) CountByStatus(ctx context.Context) (map[string]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM processing_jobs GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

func clampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
