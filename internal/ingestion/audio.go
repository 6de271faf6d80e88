package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"audiotricks/internal/audio"
	"audiotricks/internal/models"
	"audiotricks/internal/storage"
	"audiotricks/internal/transcribe"
	"audiotricks/internal/worker"
	"audiotricks/internal/youtube"

	"github.com/dhowden/tag"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
)

// Transcriber runs the chunked transcription pipeline on one recording
type Transcriber interface {
	Transcribe(ctx context.Context, req transcribe.Request) (*transcribe.Transcript, error)
}

// Downloader fetches the audio track of a video into dir
type Downloader interface {
	DownloadAudio(ctx context.Context, videoURL string, opts youtube.DownloadAudioOptions, progress func(current, total int64)) (*youtube.Download, error)
}

// AudioIngester handles audio file ingestion and transcription
type AudioIngester struct {
	sourceRepo   *storage.SourceRepository
	artifactRepo *storage.ArtifactRepository
	jobRepo      *storage.JobRepository
	transcriber  Transcriber
	downloader   Downloader
	dataDir      string
}

// NewAudioIngester creates a new AudioIngester; downloader may be nil
func NewAudioIngester(
	sourceRepo *storage.SourceRepository,
	artifactRepo *storage.ArtifactRepository,
	jobRepo *storage.JobRepository,
	transcriber Transcriber,
	downloader Downloader,
	dataDir string,
) *AudioIngester {
	return &AudioIngester{
		sourceRepo:   sourceRepo,
		artifactRepo: artifactRepo,
		jobRepo:      jobRepo,
		transcriber:  transcriber,
		downloader:   downloader,
		dataDir:      dataDir,
	}
}

// ErrUnsupportedFormat is returned for files whose extension is not an accepted audio format
var ErrUnsupportedFormat = errors.New("unsupported audio format")

// IngestOptions contains options for audio ingestion
type IngestOptions struct {
	Filename    string
	Reader      io.Reader
	Priority    int    // job priority (0-9, lower is higher priority)
	Type        string // models.SourceType*, default upload
	OriginalURL string
	Language    string
}

// IngestResult contains the result of audio ingestion
type IngestResult struct {
	SourceID string `json:"source_id"`
	JobID    string `json:"job_id"`
}

// ProgressCallback is called to report progress during processing
type ProgressCallback func(progress int, step string)

// Ingest saves the file, creates a source record, and queues a job for processing
func (i *AudioIngester) Ingest(ctx context.Context, opts IngestOptions) (*IngestResult, error) {
	filename := filepath.Base(opts.Filename)
	if !audio.IsSupportedFormat(filename) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filename)
	}
	if opts.Reader == nil {
		return nil, audio.ErrEmptyFile
	}

	// Generate source ID
	sourceID := uuid.New().String()

	// Create directory for source files
	sourceDir := filepath.Join(i.dataDir, "sources", sourceID)
	if err := os.MkdirAll(sourceDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create source directory: %w", err)
	}

	destPath := filepath.Join(sourceDir, filename)
	size, err := saveFile(destPath, opts.Reader)
	if err != nil {
		os.RemoveAll(sourceDir)
		return nil, err
	}
	if size == 0 {
		os.RemoveAll(sourceDir)
		return nil, audio.ErrEmptyFile
	}

	meta := readTags(destPath)
	meta.FileName = filename
	meta.Size = size
	meta.Language = opts.Language

	sourceType := opts.Type
	if sourceType == "" {
		sourceType = models.SourceTypeUpload
	}

	result, err := i.register(ctx, sourceID, sourceType, opts.OriginalURL, destPath, meta, opts.Priority)
	if err != nil {
		os.RemoveAll(sourceDir)
		return nil, err
	}
	return result, nil
}

// IngestFile queues a file already on disk, such as one dropped into the inbox
func (i *AudioIngester) IngestFile(ctx context.Context, path string) (*IngestResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return i.Ingest(ctx, IngestOptions{
		Filename: filepath.Base(path),
		Reader:   f,
		Priority: models.JobPriorityBatch,
		Type:     models.SourceTypeInbox,
	})
}

// IngestYouTube downloads the audio track of a video and queues it
func (i *AudioIngester) IngestYouTube(ctx context.Context, videoURL, language string) (*IngestResult, error) {
	if i.downloader == nil {
		return nil, errors.New("youtube ingestion is not configured")
	}

	sourceID := uuid.New().String()
	sourceDir := filepath.Join(i.dataDir, "sources", sourceID)
	if err := os.MkdirAll(sourceDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create source directory: %w", err)
	}

	dl, err := i.downloader.DownloadAudio(ctx, videoURL, youtube.DownloadAudioOptions{
		Language:  language,
		OutputDir: sourceDir,
	}, nil)
	if err != nil {
		os.RemoveAll(sourceDir)
		return nil, fmt.Errorf("failed to download audio: %w", err)
	}

	info, err := os.Stat(dl.Path)
	if err != nil {
		os.RemoveAll(sourceDir)
		return nil, err
	}
	if info.Size() == 0 {
		os.RemoveAll(sourceDir)
		return nil, audio.ErrEmptyFile
	}

	meta := &models.SourceMetadata{
		FileName: filepath.Base(dl.Path),
		Size:     info.Size(),
		Language: language,
		Format:   dl.Format.MimeType,
	}
	if dl.Video != nil {
		meta.Title = dl.Video.Title
		meta.Artist = dl.Video.Author
		meta.Duration = dl.Video.Duration.Seconds()
	}
	log.Printf("Downloaded %q (%s)", meta.Title, humanize.Bytes(uint64(info.Size())))

	result, err := i.register(ctx, sourceID, models.SourceTypeYouTube, videoURL, dl.Path, meta, models.JobPriorityNormal)
	if err != nil {
		os.RemoveAll(sourceDir)
		return nil, err
	}
	return result, nil
}

// register creates the source record and its transcription job
func (i *AudioIngester) register(ctx context.Context, sourceID, sourceType, originalURL, path string, meta *models.SourceMetadata, priority int) (*IngestResult, error) {
	source := &models.Source{
		ID:          sourceID,
		Type:        sourceType,
		OriginalURL: originalURL,
		FilePath:    path,
		Status:      models.SourceStatusPending,
	}
	if err := source.SetMetadata(meta); err != nil {
		return nil, fmt.Errorf("failed to encode metadata: %w", err)
	}
	if err := i.sourceRepo.Create(ctx, source); err != nil {
		return nil, fmt.Errorf("failed to create source: %w", err)
	}

	// Create job for processing
	job := &models.ProcessingJob{
		SourceID: sourceID,
		Type:     models.JobTypeTranscribe,
		Priority: priority,
	}
	if err := i.jobRepo.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	log.Printf("Queued %s (%s) as job %s", meta.FileName, humanize.Bytes(uint64(meta.Size)), job.ID)

	return &IngestResult{
		SourceID: sourceID,
		JobID:    job.ID,
	}, nil
}

// ProcessTranscription processes a transcription job
// This is called by the worker when processing the job
func (i *AudioIngester) ProcessTranscription(ctx context.Context, job *models.ProcessingJob, onProgress ProgressCallback) (json.RawMessage, error) {
	if job.SourceID == "" {
		return nil, worker.Permanent(errors.New("job has no source ID"))
	}

	// Helper to report progress (nil-safe)
	reportProgress := func(progress int, step string) {
		if onProgress != nil {
			onProgress(progress, step)
		}
	}

	reportProgress(5, "preparing")

	// Get source
	source, err := i.sourceRepo.GetByID(ctx, job.SourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to get source: %w", err)
	}
	if source == nil {
		return nil, worker.Permanent(fmt.Errorf("source not found: %s", job.SourceID))
	}

	// Update source status
	if err := i.sourceRepo.UpdateStatus(ctx, source.ID, models.SourceStatusProcessing); err != nil {
		return nil, fmt.Errorf("failed to update source status: %w", err)
	}

	transcript, err := i.transcribe(ctx, source, reportProgress)
	if err != nil {
		status := models.SourceStatusFailed
		if ctx.Err() != nil {
			status = models.SourceStatusPending
		}
		if uerr := i.sourceRepo.UpdateStatus(context.WithoutCancel(ctx), source.ID, status); uerr != nil {
			log.Printf("Error updating source %s: %v", source.ID, uerr)
		}
		return nil, err
	}

	reportProgress(95, "saving")

	// Save transcription artifact
	content, err := json.Marshal(transcript)
	if err != nil {
		return nil, fmt.Errorf("failed to encode transcript: %w", err)
	}
	artifact := &models.ProcessingArtifact{
		SourceID: source.ID,
		Type:     models.ArtifactTypeTranscription,
		Content:  string(content),
		Format:   "json",
	}
	if err := i.artifactRepo.Create(ctx, artifact); err != nil {
		return nil, fmt.Errorf("failed to save artifact: %w", err)
	}

	// Update source status to completed
	if err := i.sourceRepo.UpdateStatus(ctx, source.ID, models.SourceStatusCompleted); err != nil {
		return nil, fmt.Errorf("failed to update source status: %w", err)
	}

	reportProgress(100, "")

	return content, nil
}

func (i *AudioIngester) transcribe(ctx context.Context, source *models.Source, reportProgress ProgressCallback) (*transcribe.Transcript, error) {
	data, err := os.ReadFile(source.FilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio: %w", err)
	}

	reportProgress(10, "transcribing")

	// transcription takes 10-90%
	return i.transcriber.Transcribe(ctx, transcribe.Request{
		File: audio.File{Name: filepath.Base(source.FilePath), Data: data},
		OnProgress: func(current, total int) {
			reportProgress(10+80*current/total, fmt.Sprintf("chunk %d/%d", current, total))
		},
	})
}

func saveFile(path string, r io.Reader) (int64, error) {
	dest, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("failed to create file: %w", err)
	}

	n, err := io.Copy(dest, r)
	if cerr := dest.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, fmt.Errorf("failed to save file: %w", err)
	}
	return n, nil
}

// readTags extracts title, artist and container format when the file carries tags
func readTags(path string) *models.SourceMetadata {
	meta := &models.SourceMetadata{}

	f, err := os.Open(path)
	if err != nil {
		return meta
	}
	defer f.Close()

	m, err := tag.ReadFrom(f)
	if err != nil {
		// WAV and raw streams usually have no tags
		return meta
	}
	meta.Title = m.Title()
	meta.Artist = m.Artist()
	meta.Album = m.Album()
	meta.Format = string(m.FileType())
	return meta
}
