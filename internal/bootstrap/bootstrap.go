// Package bootstrap assembles the transcription pipeline from configuration.
package bootstrap

import (
	"fmt"
	"log"
	"time"

	"audiotricks/internal/audio"
	"audiotricks/internal/config"
	"audiotricks/internal/transcribe"
	"audiotricks/internal/transcribe/local"

	"github.com/dustin/go-humanize"
)

// Pipeline is the transcription stack shared by the server and the CLI
type Pipeline struct {
	Transport    transcribe.Transport
	Transcriber  *transcribe.Transcriber
	Splitter     *audio.Splitter
	Orchestrator *transcribe.Orchestrator

	close func() error
}

// Close releases resources held by the transport
func (p *Pipeline) Close() error {
	if p.close == nil {
		return nil
	}
	return p.close()
}

// NewTransport builds the transport selected by TRANSCRIBE_BACKEND.
// The returned function releases it.
func NewTransport(cfg *config.Config) (transcribe.Transport, func() error, error) {
	switch cfg.Backend {
	case config.BackendLocal:
		lc := local.DefaultConfig(cfg.LocalModelDir)
		lc.Language = cfg.Language
		lc.FFmpegPath = cfg.FFmpegPath
		t, err := local.New(lc)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load local model: %w", err)
		}
		return t, t.Close, nil

	case config.BackendOpenAI, "":
		return DirectTransport(cfg, cfg.OpenAIAPIKey, cfg.Model, cfg.ResponseFormat, cfg.Language), func() error { return nil }, nil
	}
	return nil, nil, fmt.Errorf("unknown transcription backend %q", cfg.Backend)
}

// DirectTransport calls the speech API with apiKey; empty arguments fall back to cfg
func DirectTransport(cfg *config.Config, apiKey, model, responseFormat, language string) transcribe.Transport {
	if model == "" {
		model = cfg.Model
	}
	if responseFormat == "" {
		responseFormat = cfg.ResponseFormat
	}
	if language == "" {
		language = cfg.Language
	}
	return transcribe.NewDirectClient(cfg.APIURL, apiKey, model, responseFormat, transcribe.WithLanguage(language))
}

// RetryOptions converts MAX_RETRIES, RETRY_DELAY and REQUESTS_PER_MINUTE into transcriber options
func RetryOptions(cfg *config.Config) transcribe.Options {
	opts := transcribe.DefaultOptions()
	opts.Retry.MaxAttempts = cfg.MaxRetries
	opts.Retry.Delay = cfg.RetryDelay
	if opts.Retry.MaxDelay < cfg.RetryDelay {
		opts.Retry.MaxDelay = cfg.RetryDelay
	}
	opts.Limiter = transcribe.NewLimiter(cfg.RequestsPerMinute)
	return opts
}

// NewPipeline wraps transport with retries, pacing, splitting and merging
func NewPipeline(cfg *config.Config, transport transcribe.Transport) *Pipeline {
	transcriber := transcribe.NewTranscriber(transport, RetryOptions(cfg))
	splitter := audio.NewSplitter(audio.NewAutoDecoder(cfg.FFmpegPath, cfg.FFprobePath), cfg.ChunkThreshold)

	log.Printf("Transcription pipeline: backend=%s threshold=%s retries=%d delay=%s",
		backendName(cfg), humanize.IBytes(uint64(splitter.Threshold())), cfg.MaxRetries, cfg.RetryDelay.Round(time.Millisecond))

	return &Pipeline{
		Transport:    transport,
		Transcriber:  transcriber,
		Splitter:     splitter,
		Orchestrator: transcribe.NewOrchestrator(transcriber, splitter),
	}
}

// Build creates the configured transport and wraps it in a pipeline
func Build(cfg *config.Config) (*Pipeline, error) {
	transport, closeFn, err := NewTransport(cfg)
	if err != nil {
		return nil, err
	}
	p := NewPipeline(cfg, transport)
	p.close = closeFn
	return p, nil
}

func backendName(cfg *config.Config) string {
	if cfg.Backend == "" {
		return config.BackendOpenAI
	}
	return cfg.Backend
}
