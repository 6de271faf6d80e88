package transcribe

import (
	"context"
	"fmt"
	"log"

	"audiotricks/internal/audio"
)

// ChunkTranscriber transcribes one file or chunk. *Transcriber implements it.
type ChunkTranscriber interface {
	Transcribe(ctx context.Context, a Audio) (*ChunkResult, error)
}

// ProgressFunc is called after each chunk finishes, successfully or not.
// current counts from 1 up to total.
type ProgressFunc func(current, total int)

// Request is one recording to transcribe
type Request struct {
	File       audio.File
	OnProgress ProgressFunc
}

// Orchestrator decides whether a recording must be split and drives the
// per-chunk loop strictly in order, one chunk at a time
type Orchestrator struct {
	transcriber ChunkTranscriber
	splitter    *audio.Splitter
}

// NewOrchestrator builds an orchestrator around a transcriber and splitter
func NewOrchestrator(transcriber ChunkTranscriber, splitter *audio.Splitter) *Orchestrator {
	return &Orchestrator{transcriber: transcriber, splitter: splitter}
}

// Transcribe returns the merged transcript for req.File.
//
// Files at or under the split threshold are sent as is. Larger files are split
// and each chunk is transcribed in order. A chunk that still fails after its
// retries is replaced with a placeholder and listed in FailedChunks; auth
// failures and cancellation abort the whole request and no partial transcript
// is returned. If every chunk fails the result is ErrAllChunksFailed.
func (o *Orchestrator) Transcribe(ctx context.Context, req Request) (*Transcript, error) {
	f := req.File
	if f.Size() == 0 {
		return nil, audio.ErrEmptyFile
	}
	if err := ctx.Err(); err != nil {
		return nil, cancelled(ctx)
	}

	if !o.splitter.NeedsSplit(f) {
		result, err := o.transcriber.Transcribe(ctx, Audio{Name: f.Name, Data: f.Data})
		if err != nil {
			return nil, err
		}
		report(req.OnProgress, 1, 1)
		return single(result), nil
	}

	split, err := o.splitter.Split(ctx, f)
	if err != nil {
		if ctx.Err() != nil {
			return nil, cancelled(ctx)
		}
		return nil, fmt.Errorf("split %s: %w", f.Name, err)
	}

	total := len(split.Chunks)
	outcomes := make([]ChunkOutcome, 0, total)
	var lastErr error

	for _, chunk := range split.Chunks {
		if ctx.Err() != nil {
			return nil, cancelled(ctx)
		}

		outcome := ChunkOutcome{
			Index:     chunk.Index,
			StartTime: chunk.StartTime,
			EndTime:   chunk.EndTime,
		}

		result, err := o.transcriber.Transcribe(ctx, Audio{Name: chunk.Name, Data: chunk.Data})
		switch {
		case err == nil:
			outcome.Result = result
		case IsFatal(err):
			return nil, err
		case ctx.Err() != nil:
			return nil, cancelled(ctx)
		default:
			log.Printf("Chunk %d/%d of %s failed: %v", chunk.Index+1, total, f.Name, err)
			outcome.Failed = true
			lastErr = err
		}

		outcomes = append(outcomes, outcome)
		report(req.OnProgress, chunk.Index+1, total)
	}

	merged := Merge(outcomes)
	if len(merged.FailedChunks) == total {
		return nil, fmt.Errorf("%w: %w", ErrAllChunksFailed, lastErr)
	}
	if len(merged.FailedChunks) > 0 {
		log.Printf("Transcribed %s with %d of %d chunks failed", f.Name, len(merged.FailedChunks), total)
	}
	return merged, nil
}

func report(fn ProgressFunc, current, total int) {
	if fn != nil {
		fn(current, total)
	}
}

var _ ChunkTranscriber = (*Transcriber)(nil)
