package ingestion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"audiotricks/internal/audio"
	"audiotricks/internal/models"
	"audiotricks/internal/storage"
	"audiotricks/internal/transcribe"
	"audiotricks/internal/worker"
	"audiotricks/internal/youtube"
)

type fakeTranscriber struct {
	got audio.File
	err error
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, req transcribe.Request) (*transcribe.Transcript, error) {
	f.got = req.File
	if f.err != nil {
		return nil, f.err
	}
	if req.OnProgress != nil {
		req.OnProgress(1, 2)
		req.OnProgress(2, 2)
	}
	return &transcribe.Transcript{Text: "hello there", Duration: 3, Chunks: 2}, nil
}

type fakeDownloader struct {
	content string
}

func (f *fakeDownloader) DownloadAudio(ctx context.Context, videoURL string, opts youtube.DownloadAudioOptions, progress func(current, total int64)) (*youtube.Download, error) {
	path := filepath.Join(opts.OutputDir, "Talk.m4a")
	if err := os.WriteFile(path, []byte(f.content), 0644); err != nil {
		return nil, err
	}
	return &youtube.Download{
		Path:   path,
		Video:  &youtube.VideoInfo{ID: "abc", Title: "Talk", Author: "Someone", Duration: 90 * time.Second},
		Format: youtube.AudioFormat{ItagNo: 140, MimeType: "audio/mp4"},
	}, nil
}

type fixture struct {
	ingester    *AudioIngester
	sources     *storage.SourceRepository
	artifacts   *storage.ArtifactRepository
	jobs        *storage.JobRepository
	transcriber *fakeTranscriber
	dataDir     string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	db, err := storage.Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	f := &fixture{
		sources:     storage.NewSourceRepository(db),
		artifacts:   storage.NewArtifactRepository(db),
		jobs:        storage.NewJobRepository(db),
		transcriber: &fakeTranscriber{},
		dataDir:     filepath.Join(dir, "data"),
	}
	f.ingester = NewAudioIngester(f.sources, f.artifacts, f.jobs, f.transcriber, &fakeDownloader{content: "m4a-bytes"}, f.dataDir)
	return f
}

func TestIngestQueuesJob(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	result, err := f.ingester.Ingest(ctx, IngestOptions{Filename: "../meeting.mp3", Reader: strings.NewReader("mp3-data"), Priority: models.JobPriorityImmediate})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}

	source, _ := f.sources.GetByID(ctx, result.SourceID)
	if source == nil || source.Type != models.SourceTypeUpload {
		t.Fatalf("source = %+v", source)
	}
	if filepath.Dir(source.FilePath) != filepath.Join(f.dataDir, "sources", result.SourceID) {
		t.Fatalf("file stored at %s", source.FilePath)
	}
	data, _ := os.ReadFile(source.FilePath)
	if string(data) != "mp3-data" {
		t.Fatalf("stored data = %q", data)
	}
	meta, _ := source.GetMetadata()
	if meta.FileName != "meeting.mp3" || meta.Size != 8 {
		t.Fatalf("metadata = %+v", meta)
	}

	job, _ := f.jobs.GetByID(ctx, result.JobID)
	if job == nil || job.SourceID != result.SourceID || job.Priority != models.JobPriorityImmediate || job.Status != models.JobStatusQueued {
		t.Fatalf("job = %+v", job)
	}
}

func TestIngestRejectsInput(t *testing.T) {
	f := newFixture(t)

	_, err := f.ingester.Ingest(context.Background(), IngestOptions{Filename: "notes.txt", Reader: strings.NewReader("x")})
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("error = %v, want ErrUnsupportedFormat", err)
	}

	_, err = f.ingester.Ingest(context.Background(), IngestOptions{Filename: "empty.wav", Reader: bytes.NewReader(nil)})
	if !errors.Is(err, audio.ErrEmptyFile) {
		t.Fatalf("error = %v, want ErrEmptyFile", err)
	}
	entries, _ := os.ReadDir(filepath.Join(f.dataDir, "sources"))
	if len(entries) != 0 {
		t.Fatalf("left %d source directories behind", len(entries))
	}
}

func TestIngestFile(t *testing.T) {
	f := newFixture(t)
	path := filepath.Join(t.TempDir(), "voice.ogg")
	os.WriteFile(path, []byte("ogg"), 0644)

	result, err := f.ingester.IngestFile(context.Background(), path)
	if err != nil {
		t.Fatalf("IngestFile() error = %v", err)
	}
	source, _ := f.sources.GetByID(context.Background(), result.SourceID)
	if source.Type != models.SourceTypeInbox {
		t.Fatalf("type = %s", source.Type)
	}
}

func TestIngestYouTube(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	result, err := f.ingester.IngestYouTube(ctx, "https://www.youtube.com/watch?v=abc", "en")
	if err != nil {
		t.Fatalf("IngestYouTube() error = %v", err)
	}
	source, _ := f.sources.GetByID(ctx, result.SourceID)
	meta, _ := source.GetMetadata()
	if source.Type != models.SourceTypeYouTube || source.OriginalURL != "https://www.youtube.com/watch?v=abc" {
		t.Fatalf("source = %+v", source)
	}
	if meta.Title != "Talk" || meta.Artist != "Someone" || meta.Duration != 90 || meta.Language != "en" {
		t.Fatalf("metadata = %+v", meta)
	}
}

func TestProcessTranscription(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	result, err := f.ingester.Ingest(ctx, IngestOptions{Filename: "memo.wav", Reader: strings.NewReader("RIFF....")})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	job, _ := f.jobs.GetByID(ctx, result.JobID)

	var steps []string
	var last int
	out, err := f.ingester.ProcessTranscription(ctx, job, func(progress int, step string) {
		if progress < last {
			t.Errorf("progress went backwards: %d after %d", progress, last)
		}
		last = progress
		steps = append(steps, step)
	})
	if err != nil {
		t.Fatalf("ProcessTranscription() error = %v", err)
	}

	var transcript transcribe.Transcript
	if err := json.Unmarshal(out, &transcript); err != nil || transcript.Text != "hello there" {
		t.Fatalf("result = %s (%v)", out, err)
	}
	if f.transcriber.got.Name != "memo.wav" || string(f.transcriber.got.Data) != "RIFF...." {
		t.Fatalf("transcriber got %+v", f.transcriber.got)
	}
	if last != 100 || !contains(steps, "chunk 2/2") {
		t.Fatalf("steps = %v, last = %d", steps, last)
	}

	source, _ := f.sources.GetByID(ctx, result.SourceID)
	if source.Status != models.SourceStatusCompleted {
		t.Fatalf("source status = %s", source.Status)
	}
	artifacts, _ := f.artifacts.GetBySourceID(ctx, result.SourceID)
	if len(artifacts) != 1 || artifacts[0].Content != string(out) {
		t.Fatalf("artifacts = %+v", artifacts)
	}
}

func TestProcessTranscriptionFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.transcriber.err = transcribe.ErrAuth

	result, _ := f.ingester.Ingest(ctx, IngestOptions{Filename: "memo.mp3", Reader: strings.NewReader("x")})
	job, _ := f.jobs.GetByID(ctx, result.JobID)

	_, err := f.ingester.ProcessTranscription(ctx, job, nil)
	if !errors.Is(err, transcribe.ErrAuth) || !worker.IsPermanent(err) {
		t.Fatalf("error = %v, want permanent ErrAuth", err)
	}
	source, _ := f.sources.GetByID(ctx, result.SourceID)
	if source.Status != models.SourceStatusFailed {
		t.Fatalf("source status = %s", source.Status)
	}
}

func TestProcessTranscriptionMissingSource(t *testing.T) {
	f := newFixture(t)
	_, err := f.ingester.ProcessTranscription(context.Background(), &models.ProcessingJob{ID: "j", SourceID: "gone"}, nil)
	if !worker.IsPermanent(err) {
		t.Fatalf("error = %v, want permanent", err)
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
