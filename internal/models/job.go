package models

import (
	"encoding/json"
	"time"
)

// ProcessingJob は非同期処理タスク
type ProcessingJob struct {
	ID          string          `json:"id"`
	SourceID    string          `json:"source_id,omitempty"`
	Type        string          `json:"type"`
	Status      string          `json:"status"`
	Priority    int             `json:"priority"`
	Progress    int             `json:"progress"`
	CurrentStep string          `json:"current_step,omitempty"`
	RetryCount  int             `json:"retry_count"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// IsTerminal はジョブが完了または失敗しているかを返す
func (j *ProcessingJob) IsTerminal() bool {
	return IsTerminalStatus(j.Status)
}

// StatusView はジョブステータスAPIのレスポンスに変換する
func (j *ProcessingJob) StatusView() JobStatus {
	s := JobStatus{
		ID:       j.ID,
		Status:   j.Status,
		Progress: j.Progress,
		Step:     j.CurrentStep,
	}
	switch j.Status {
	case JobStatusCompleted:
		s.Result = j.Result
		s.Progress = 100
	case JobStatusFailed:
		s.Error = j.Error
	}
	return s
}

// JobStatus はジョブステータスAPI (GET /api/jobs/:id) のペイロード。
// result は completed のときだけ、error は failed のときだけ含まれる。
type JobStatus struct {
	ID       string          `json:"id"`
	Status   string          `json:"status"`
	Progress int             `json:"progress"`
	Step     string          `json:"step,omitempty"`
	Result   json.RawMessage `json:"result,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// IsTerminal は completed / failed のいずれかかを返す
func (s JobStatus) IsTerminal() bool {
	return IsTerminalStatus(s.Status)
}

// IsTerminalStatus は終端ステータスかを返す
func IsTerminalStatus(status string) bool {
	return status == JobStatusCompleted || status == JobStatusFailed
}

// ジョブタイプ
const (
	JobTypeTranscribe = "transcribe"
)

// ジョブステータス
const (
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

// ジョブ優先度
const (
	JobPriorityImmediate = 0 // 即時処理
	JobPriorityNormal    = 5 // 通常処理
	JobPriorityBatch     = 9 // バッチ処理
)
