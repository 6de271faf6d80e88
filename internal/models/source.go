package models

import (
	"encoding/json"
	"time"
)

// Source は取り込まれた音声ファイル
type Source struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	OriginalURL string    `json:"original_url,omitempty"`
	FilePath    string    `json:"file_path,omitempty"`
	Metadata    string    `json:"metadata,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	Status      string    `json:"status"`
}

// ソースタイプ
const (
	SourceTypeUpload  = "upload"
	SourceTypeInbox   = "inbox"
	SourceTypeYouTube = "youtube"
)

// ソースステータス
const (
	SourceStatusPending    = "pending"
	SourceStatusProcessing = "processing"
	SourceStatusCompleted  = "completed"
	SourceStatusFailed     = "failed"
)

// SourceMetadata はソースに付随する情報
type SourceMetadata struct {
	FileName string  `json:"file_name"`
	Size     int64   `json:"size"`
	Title    string  `json:"title,omitempty"`
	Artist   string  `json:"artist,omitempty"`
	Album    string  `json:"album,omitempty"`
	Format   string  `json:"format,omitempty"`
	Language string  `json:"language,omitempty"`
	Duration float64 `json:"duration,omitempty"`
}

// ProcessingArtifact は処理で生成されたデータ
type ProcessingArtifact struct {
	ID        string    `json:"id"`
	SourceID  string    `json:"source_id"`
	Type      string    `json:"type"`
	Content   string    `json:"content,omitempty"`
	Format    string    `json:"format,omitempty"`
	FilePath  string    `json:"file_path,omitempty"`
	Metadata  string    `json:"metadata,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// アーティファクトタイプ
const (
	ArtifactTypeTranscription = "transcription"
)

// GetMetadata はメタデータを構造体として取得
func (s *Source) GetMetadata() (*SourceMetadata, error) {
	if s.Metadata == "" {
		return &SourceMetadata{}, nil
	}
	var m SourceMetadata
	if err := json.Unmarshal([]byte(s.Metadata), &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// SetMetadata はメタデータをJSON文字列として設定
func (s *Source) SetMetadata(m *SourceMetadata) error {
	if m == nil {
		s.Metadata = ""
		return nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	s.Metadata = string(data)
	return nil
}
