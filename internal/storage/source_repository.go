package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"audiotricks/internal/models"

	"github.com/google/uuid"
)

// SourceRepository はソースのデータアクセス層
type SourceRepository struct {
	db *DB
}

// NewSourceRepository は新しいSourceRepositoryを作成
func NewSourceRepository(db *DB) *SourceRepository {
	return &SourceRepository{db: db}
}

// Create は新しいソースを作成
func (r *SourceRepository) Create(ctx context.Context, source *models.Source) error {
	if source.ID == "" {
		source.ID = uuid.New().String()
	}
	source.CreatedAt = time.Now()
	if source.Status == "" {
		source.Status = models.SourceStatusPending
	}

	_, err := r.db.ExecContext(ctx, `INSERT INTO sources
		(id, type, original_url, file_path, metadata, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		source.ID, source.Type, source.OriginalURL, source.FilePath, source.Metadata,
		source.Status, toMillis(source.CreatedAt))
	return err
}

// GetByID はIDでソースを取得
func (r *SourceRepository) GetByID(ctx context.Context, id string) (*models.Source, error) {
	var source models.Source
	var createdAt int64
	err := r.db.QueryRowContext(ctx, `SELECT id, type, original_url, file_path, metadata, status, created_at
		FROM sources WHERE id = ?`, id).
		Scan(&source.ID, &source.Type, &source.OriginalURL, &source.FilePath, &source.Metadata, &source.Status, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	source.CreatedAt = fromMillis(createdAt)
	return &source, nil
}

// UpdateStatus はソースのステータスを更新
func (r *SourceRepository) UpdateStatus(ctx context.Context, id, status string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE sources SET status = ? WHERE id = ?`, status, id)
	return err
}

// Delete はソースを削除
func (r *SourceRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM sources WHERE id = ?`, id)
	return err
}

// ArtifactRepository はアーティファクトのデータアクセス層
type ArtifactRepository struct {
	db *DB
}

// NewArtifactRepository は新しいArtifactRepositoryを作成
func NewArtifactRepository(db *DB) *ArtifactRepository {
	return &ArtifactRepository{db: db}
}

// Create は新しいアーティファクトを作成
func (r *ArtifactRepository) Create(ctx context.Context, artifact *models.ProcessingArtifact) error {
	if artifact.ID == "" {
		artifact.ID = uuid.New().String()
	}
	artifact.CreatedAt = time.Now()

	_, err := r.db.ExecContext(ctx, `INSERT INTO processing_artifacts
		(id, source_id, type, content, format, file_path, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		artifact.ID, artifact.SourceID, artifact.Type, artifact.Content, artifact.Format,
		artifact.FilePath, artifact.Metadata, toMillis(artifact.CreatedAt))
	return err
}

// GetBySourceID はソースIDでアーティファクト一覧を取得
func (r *ArtifactRepository) GetBySourceID(ctx context.Context, sourceID string) ([]models.ProcessingArtifact, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, source_id, type, content, format, file_path, metadata, created_at
		FROM processing_artifacts WHERE source_id = ? ORDER BY created_at ASC`, sourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var artifacts []models.ProcessingArtifact
	for rows.Next() {
		var a models.ProcessingArtifact
		var createdAt int64
		if err := rows.Scan(&a.ID, &a.SourceID, &a.Type, &a.Content, &a.Format, &a.FilePath, &a.Metadata, &createdAt); err != nil {
			return nil, err
		}
		a.CreatedAt = fromMillis(createdAt)
		artifacts = append(artifacts, a)
	}
	return artifacts, rows.Err()
}

// DeleteBySourceID はソースIDでアーティファクトを削除
func (r *ArtifactRepository) DeleteBySourceID(ctx context.Context, sourceID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM processing_artifacts WHERE source_id = ?`, sourceID)
	return err
}
