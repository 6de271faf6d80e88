package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"audiotricks/internal/audio"
	"audiotricks/internal/ingestion"
	"audiotricks/internal/models"
	"audiotricks/internal/storage"
	"audiotricks/internal/transcribe"

	"github.com/labstack/echo/v4"
)

func newJobRepo(t *testing.T) *storage.JobRepository {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return storage.NewJobRepository(db)
}

func multipartBody(t *testing.T, field, filename, content string, extra map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for k, v := range extra {
		w.WriteField(k, v)
	}
	part, err := w.CreateFormFile(field, filename)
	if err != nil {
		t.Fatal(err)
	}
	io.WriteString(part, content)
	w.Close()
	return &body, w.FormDataContentType()
}

type fakeIngester struct {
	opts    ingestion.IngestOptions
	content string
	url     string
	err     error
}

func (f *fakeIngester) Ingest(ctx context.Context, opts ingestion.IngestOptions) (*ingestion.IngestResult, error) {
	f.opts = opts
	if opts.Reader != nil {
		b, _ := io.ReadAll(opts.Reader)
		f.content = string(b)
	}
	if f.err != nil {
		return nil, f.err
	}
	return &ingestion.IngestResult{SourceID: "src-1", JobID: "job-1"}, nil
}

func (f *fakeIngester) IngestYouTube(ctx context.Context, videoURL, language string) (*ingestion.IngestResult, error) {
	f.url = videoURL
	if f.err != nil {
		return nil, f.err
	}
	return &ingestion.IngestResult{SourceID: "src-2", JobID: "job-2"}, nil
}

func TestJobCreate(t *testing.T) {
	ing := &fakeIngester{}
	h := NewJobHandler(newJobRepo(t), ing)

	body, ct := multipartBody(t, "file", "talk.mp3", "audio", map[string]string{"priority": "0", "language": "ja"})
	req := httptest.NewRequest(http.MethodPost, "/api/jobs", body)
	req.Header.Set(echo.HeaderContentType, ct)
	rec := httptest.NewRecorder()

	if err := h.Create(echo.New().NewContext(req, rec)); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}

	var resp map[string]string
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["job_id"] != "job-1" {
		t.Fatalf("response = %v", resp)
	}
	if ing.opts.Filename != "talk.mp3" || ing.content != "audio" || ing.opts.Priority != 0 || ing.opts.Language != "ja" {
		t.Fatalf("ingest options = %+v content=%q", ing.opts, ing.content)
	}
}

func TestJobCreateErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"unsupported", ingestion.ErrUnsupportedFormat, http.StatusUnsupportedMediaType},
		{"empty", audio.ErrEmptyFile, http.StatusBadRequest},
		{"other", errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewJobHandler(newJobRepo(t), &fakeIngester{err: tt.err})
			body, ct := multipartBody(t, "file", "talk.mp3", "audio", nil)
			req := httptest.NewRequest(http.MethodPost, "/api/jobs", body)
			req.Header.Set(echo.HeaderContentType, ct)
			rec := httptest.NewRecorder()

			h.Create(echo.New().NewContext(req, rec))
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestJobCreateMissingFile(t *testing.T) {
	h := NewJobHandler(newJobRepo(t), &fakeIngester{})
	body, ct := multipartBody(t, "upload", "talk.mp3", "audio", nil)
	req := httptest.NewRequest(http.MethodPost, "/api/jobs", body)
	req.Header.Set(echo.HeaderContentType, ct)
	rec := httptest.NewRecorder()

	h.Create(echo.New().NewContext(req, rec))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestJobCreateFromYouTube(t *testing.T) {
	ing := &fakeIngester{}
	h := NewJobHandler(newJobRepo(t), ing)

	req := httptest.NewRequest(http.MethodPost, "/api/jobs/youtube", strings.NewReader(`{"url":"https://youtu.be/abc","language":"en"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()

	if err := h.CreateFromYouTube(echo.New().NewContext(req, rec)); err != nil {
		t.Fatalf("CreateFromYouTube() error = %v", err)
	}
	if rec.Code != http.StatusAccepted || ing.url != "https://youtu.be/abc" {
		t.Fatalf("status = %d, url = %q", rec.Code, ing.url)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/jobs/youtube", strings.NewReader(`{}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec = httptest.NewRecorder()
	h.CreateFromYouTube(echo.New().NewContext(req, rec))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status without url = %d, want 400", rec.Code)
	}
}

func getJob(t *testing.T, h *JobHandler, id string) (*httptest.ResponseRecorder, models.JobStatus) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/jobs/"+id, nil)
	rec := httptest.NewRecorder()
	c := echo.New().NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(id)

	if err := h.Get(c); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	var status models.JobStatus
	json.Unmarshal(rec.Body.Bytes(), &status)
	return rec, status
}

func TestJobGet(t *testing.T) {
	ctx := context.Background()
	repo := newJobRepo(t)
	h := NewJobHandler(repo, &fakeIngester{})

	job := &models.ProcessingJob{Type: models.JobTypeTranscribe}
	if err := repo.Create(ctx, job); err != nil {
		t.Fatal(err)
	}

	rec, status := getJob(t, h, job.ID)
	if rec.Code != http.StatusOK || status.Status != models.JobStatusQueued || status.Result != nil {
		t.Fatalf("queued job = %d %+v", rec.Code, status)
	}

	repo.Start(ctx, job.ID)
	repo.UpdateProgress(ctx, job.ID, 40)
	_, status = getJob(t, h, job.ID)
	if status.Status != models.JobStatusProcessing || status.Progress != 40 {
		t.Fatalf("processing job = %+v", status)
	}

	repo.Complete(ctx, job.ID, json.RawMessage(`{"text":"done"}`))
	_, status = getJob(t, h, job.ID)
	if status.Status != models.JobStatusCompleted || string(status.Result) != `{"text":"done"}` || status.Error != "" {
		t.Fatalf("completed job = %+v", status)
	}

	rec, _ = getJob(t, h, "missing")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing job status = %d", rec.Code)
	}
}

func TestJobGetFailed(t *testing.T) {
	ctx := context.Background()
	repo := newJobRepo(t)
	h := NewJobHandler(repo, &fakeIngester{})

	job := &models.ProcessingJob{Type: models.JobTypeTranscribe}
	repo.Create(ctx, job)
	repo.Start(ctx, job.ID)
	repo.Fail(ctx, job.ID, "invalid API key")

	_, status := getJob(t, h, job.ID)
	if status.Status != models.JobStatusFailed || status.Error != "invalid API key" || status.Result != nil {
		t.Fatalf("failed job = %+v", status)
	}
}

func TestJobTranscript(t *testing.T) {
	ctx := context.Background()
	repo := newJobRepo(t)
	h := NewJobHandler(repo, &fakeIngester{})

	result, _ := json.Marshal(&transcribe.Transcript{
		Text:     "hello world",
		Segments: []transcribe.Segment{{Start: 0, End: 1.5, Text: "hello world"}},
		Duration: 1.5,
		Chunks:   1,
	})
	job := &models.ProcessingJob{Type: models.JobTypeTranscribe}
	repo.Create(ctx, job)

	get := func(format string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/jobs/"+job.ID+"/transcript?format="+format, nil)
		rec := httptest.NewRecorder()
		c := echo.New().NewContext(req, rec)
		c.SetParamNames("id")
		c.SetParamValues(job.ID)
		h.Transcript(c)
		return rec
	}

	if rec := get("text"); rec.Code != http.StatusConflict {
		t.Fatalf("queued transcript status = %d, want 409", rec.Code)
	}

	repo.Complete(ctx, job.ID, result)

	if rec := get("text"); rec.Code != http.StatusOK || rec.Body.String() != "hello world" {
		t.Fatalf("text = %d %q", rec.Code, rec.Body)
	}
	if rec := get("srt"); !strings.Contains(rec.Body.String(), "00:00:00,000 --> 00:00:01,500") {
		t.Fatalf("srt = %q", rec.Body)
	}
	if rec := get("yaml"); rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown format status = %d", rec.Code)
	}
}

func TestJobDeleteAndStats(t *testing.T) {
	ctx := context.Background()
	repo := newJobRepo(t)
	h := NewJobHandler(repo, &fakeIngester{})

	busy := &models.ProcessingJob{Type: models.JobTypeTranscribe}
	done := &models.ProcessingJob{Type: models.JobTypeTranscribe}
	repo.Create(ctx, busy)
	repo.Create(ctx, done)
	repo.Start(ctx, busy.ID)
	repo.Complete(ctx, done.ID, nil)

	del := func(id string) int {
		req := httptest.NewRequest(http.MethodDelete, "/api/jobs/"+id, nil)
		rec := httptest.NewRecorder()
		c := echo.New().NewContext(req, rec)
		c.SetParamNames("id")
		c.SetParamValues(id)
		h.Delete(c)
		return rec.Code
	}

	if code := del(busy.ID); code != http.StatusConflict {
		t.Fatalf("delete processing = %d, want 409", code)
	}
	if code := del(done.ID); code != http.StatusNoContent {
		t.Fatalf("delete completed = %d, want 204", code)
	}
	if code := del(done.ID); code != http.StatusNotFound {
		t.Fatalf("delete twice = %d, want 404", code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/jobs/stats", nil)
	rec := httptest.NewRecorder()
	if err := h.Stats(echo.New().NewContext(req, rec)); err != nil {
		t.Fatal(err)
	}
	var stats map[string]int64
	json.Unmarshal(rec.Body.Bytes(), &stats)
	if stats[models.JobStatusProcessing] != 1 || stats[models.JobStatusCompleted] != 0 {
		t.Fatalf("stats = %v", stats)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/jobs?status=processing", nil)
	rec = httptest.NewRecorder()
	h.List(echo.New().NewContext(req, rec))
	var jobs []models.ProcessingJob
	json.Unmarshal(rec.Body.Bytes(), &jobs)
	if len(jobs) != 1 || jobs[0].ID != busy.ID {
		t.Fatalf("jobs = %+v", jobs)
	}
}
