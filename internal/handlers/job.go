package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"audiotricks/internal/audio"
	"audiotricks/internal/ingestion"
	"audiotricks/internal/models"
	"audiotricks/internal/storage"
	"audiotricks/internal/transcribe"

	"github.com/labstack/echo/v4"
)

// Ingester はアップロードやYouTube URLからジョブを作成する
type Ingester interface {
	Ingest(ctx context.Context, opts ingestion.IngestOptions) (*ingestion.IngestResult, error)
	IngestYouTube(ctx context.Context, videoURL, language string) (*ingestion.IngestResult, error)
}

// JobHandler はジョブAPIのハンドラー
type JobHandler struct {
	repo     *storage.JobRepository
	ingester Ingester
}

// NewJobHandler は新しいJobHandlerを作成
func NewJobHandler(repo *storage.JobRepository, ingester Ingester) *JobHandler {
	return &JobHandler{repo: repo, ingester: ingester}
}

// Create は音声ファイルを受け取り文字起こしジョブを登録
// POST /api/jobs
func (h *JobHandler) Create(c echo.Context) error {
	ctx := c.Request().Context()

	fh, err := c.FormFile("file")
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "missing file field"})
	}
	f, err := fh.Open()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to open file"})
	}
	defer f.Close()

	priority := models.JobPriorityNormal
	if p := c.FormValue("priority"); p != "" {
		if parsed, err := strconv.Atoi(p); err == nil && parsed >= 0 && parsed <= 9 {
			priority = parsed
		}
	}

	result, err := h.ingester.Ingest(ctx, ingestion.IngestOptions{
		Filename: fh.Filename,
		Reader:   f,
		Priority: priority,
		Language: c.FormValue("language"),
	})
	if err != nil {
		return ingestError(c, err)
	}

	return c.JSON(http.StatusAccepted, result)
}

// youtubeRequest は POST /api/jobs/youtube のリクエストボディ
type youtubeRequest struct {
	URL      string `json:"url"`
	Language string `json:"language"`
}

// CreateFromYouTube はYouTube動画の音声を取得してジョブを登録
// POST /api/jobs/youtube
func (h *JobHandler) CreateFromYouTube(c echo.Context) error {
	var req youtubeRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if strings.TrimSpace(req.URL) == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "url is required"})
	}

	result, err := h.ingester.IngestYouTube(c.Request().Context(), req.URL, req.Language)
	if err != nil {
		return ingestError(c, err)
	}

	return c.JSON(http.StatusAccepted, result)
}

func ingestError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, ingestion.ErrUnsupportedFormat):
		return c.JSON(http.StatusUnsupportedMediaType, map[string]string{"error": err.Error()})
	case errors.Is(err, audio.ErrEmptyFile):
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	c.Logger().Errorf("ingest failed: %v", err)
	return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
}

// List はジョブ一覧を取得
func (h *JobHandler) List(c echo.Context) error {
	ctx := c.Request().Context()
	status := c.QueryParam("status")

	limit := 50
	if l := c.QueryParam("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	var jobs []models.ProcessingJob
	var err error

	if status != "" {
		jobs, err = h.repo.ListByStatus(ctx, status, limit)
	} else {
		jobs, err = h.repo.ListRecent(ctx, limit)
	}

	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if jobs == nil {
		jobs = []models.ProcessingJob{}
	}

	return c.JSON(http.StatusOK, jobs)
}

// Get はジョブステータスを取得
// GET /api/jobs/:id
func (h *JobHandler) Get(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	job, err := h.repo.GetByID(ctx, id)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if job == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "job not found"})
	}

	return c.JSON(http.StatusOK, job.StatusView())
}

// Transcript は完了したジョブの文字起こしを text / json / srt で返す
// GET /api/jobs/:id/transcript?format=srt
func (h *JobHandler) Transcript(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	job, err := h.repo.GetByID(ctx, id)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if job == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "job not found"})
	}
	if job.Status != models.JobStatusCompleted {
		return c.JSON(http.StatusConflict, map[string]string{"error": "job is " + job.Status})
	}

	var t transcribe.Transcript
	if err := json.Unmarshal(job.Result, &t); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "stored result is not a transcript"})
	}

	format := c.QueryParam("format")
	out, err := t.Format(format)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	switch format {
	case "json":
		return c.Blob(http.StatusOK, echo.MIMEApplicationJSONCharsetUTF8, []byte(out))
	case "srt":
		return c.Blob(http.StatusOK, "application/x-subrip; charset=utf-8", []byte(out))
	}
	return c.String(http.StatusOK, out)
}

// Stats はジョブ統計を取得
func (h *JobHandler) Stats(c echo.Context) error {
	ctx := c.Request().Context()

	counts, err := h.repo.CountByStatus(ctx)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusOK, counts)
}

// Delete はジョブを削除
func (h *JobHandler) Delete(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	job, err := h.repo.GetByID(ctx, id)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if job == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "job not found"})
	}
	if job.Status == models.JobStatusProcessing {
		return c.JSON(http.StatusConflict, map[string]string{"error": "job is processing"})
	}

	if err := h.repo.Delete(ctx, id); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.NoContent(http.StatusNoContent)
}
