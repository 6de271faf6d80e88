package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"audiotricks/internal/audio"
	"audiotricks/internal/bootstrap"
	"audiotricks/internal/config"
	"audiotricks/internal/poller"
	"audiotricks/internal/transcribe"

	"github.com/dustin/go-humanize"
	"golang.org/x/term"
)

func main() {
	// Define flags
	var (
		inputFile  = flag.String("i", "", "Input audio file")
		outputFile = flag.String("o", "", "Output file (default: stdout)")
		format     = flag.String("format", "text", "Output format: text, json, srt")
		mode       = flag.String("mode", "direct", "Transport: direct, proxy, job, local")
		serverURL  = flag.String("server", "http://localhost:8080", "Backend URL for proxy and job modes")
		token      = flag.String("token", "", "Bearer token for proxy and job modes (default: $AUDIOTRICKS_TOKEN)")
		modelDir   = flag.String("model", "", "Whisper model directory for local mode (default: $LOCAL_MODEL_DIR)")
		language   = flag.String("lang", "", "Language hint, e.g. en or ja")
		verbose    = flag.Bool("v", false, "Verbose output")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s -i lecture.mp3\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -i lecture.mp3 -format srt -o lecture.srt\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -i lecture.mp3 -mode proxy -server https://audiotricks.example.com -token $TOKEN\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -i lecture.mp3 -mode job -token $TOKEN\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -i lecture.wav -mode local -model models/whisper-small\n", os.Args[0])
	}

	flag.Parse()

	// Validate input
	if *inputFile == "" {
		fmt.Fprintf(os.Stderr, "Error: Input file is required\n\n")
		flag.Usage()
		os.Exit(1)
	}

	// Validate format
	if *format != "text" && *format != "json" && *format != "srt" {
		fmt.Fprintf(os.Stderr, "Error: Invalid format '%s'. Must be: text, json, or srt\n", *format)
		os.Exit(1)
	}

	if !*verbose {
		log.SetOutput(io.Discard)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Invalid configuration: %v\n", err)
		os.Exit(1)
	}
	if *language != "" {
		cfg.Language = *language
	}
	if *token == "" {
		*token = os.Getenv("AUDIOTRICKS_TOKEN")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var transcript *transcribe.Transcript
	switch *mode {
	case "job":
		transcript, err = runJob(ctx, cfg, *inputFile, *serverURL, *token, *verbose)
	case "direct", "proxy", "local":
		transcript, err = runPipeline(ctx, cfg, *mode, *inputFile, *serverURL, *token, *modelDir, *verbose)
	default:
		fmt.Fprintf(os.Stderr, "Error: Invalid mode '%s'. Must be: direct, proxy, job, or local\n", *mode)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if len(transcript.FailedChunks) > 0 {
		fmt.Fprintf(os.Stderr, "Warning: %d of %d chunks failed and were replaced by placeholders\n",
			len(transcript.FailedChunks), transcript.Chunks)
	}

	// Format output
	output, err := transcript.Format(*format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to format output: %v\n", err)
		os.Exit(1)
	}

	// Write output
	if *outputFile != "" {
		if err := os.WriteFile(*outputFile, []byte(output), 0644); err != nil {
			fmt.Fprintf(os.Stderr, "Error: Failed to write output file: %v\n", err)
			os.Exit(1)
		}
		if *verbose {
			fmt.Fprintf(os.Stderr, "Output written to: %s\n", *outputFile)
		}
	} else {
		fmt.Println(output)
	}
}

// runPipeline transcribes the file in this process, splitting it when needed
func runPipeline(ctx context.Context, cfg *config.Config, mode, inputFile, serverURL, token, modelDir string, verbose bool) (*transcribe.Transcript, error) {
	data, err := os.ReadFile(inputFile)
	if err != nil {
		return nil, err
	}

	var transport transcribe.Transport
	closeFn := func() error { return nil }

	switch mode {
	case "direct":
		apiKey := cfg.OpenAIAPIKey
		if apiKey == "" {
			if apiKey, err = promptAPIKey(); err != nil {
				return nil, err
			}
		}
		transport = bootstrap.DirectTransport(cfg, apiKey, "", "", "")
	case "proxy":
		transport = transcribe.NewProxyClient(serverURL, token, cfg.Model, cfg.ResponseFormat, transcribe.WithLanguage(cfg.Language))
	case "local":
		cfg.Backend = config.BackendLocal
		if modelDir != "" {
			cfg.LocalModelDir = modelDir
		}
		if verbose {
			fmt.Fprintf(os.Stderr, "Loading model from: %s\n", cfg.LocalModelDir)
		}
		transport, closeFn, err = bootstrap.NewTransport(cfg)
		if err != nil {
			return nil, err
		}
	}
	defer closeFn()

	pipeline := bootstrap.NewPipeline(cfg, transport)

	file := audio.File{Name: filepath.Base(inputFile), Data: data}
	if verbose {
		fmt.Fprintf(os.Stderr, "Transcribing: %s (%s)\n", inputFile, humanize.Bytes(uint64(file.Size())))
		if pipeline.Splitter.NeedsSplit(file) {
			fmt.Fprintf(os.Stderr, "File exceeds %s and will be split\n", humanize.Bytes(uint64(pipeline.Splitter.Threshold())))
		}
	}

	return pipeline.Orchestrator.Transcribe(ctx, transcribe.Request{
		File: file,
		OnProgress: func(current, total int) {
			if verbose {
				fmt.Fprintf(os.Stderr, "Transcribed chunk %d/%d\n", current, total)
			}
		},
	})
}

// runJob uploads the file to the backend and polls the job until it finishes
func runJob(ctx context.Context, cfg *config.Config, inputFile, serverURL, token string, verbose bool) (*transcribe.Transcript, error) {
	f, err := os.Open(inputFile)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	client := poller.NewHTTPClient(serverURL, token)
	jobID, err := client.Submit(ctx, inputFile, f)
	if err != nil {
		return nil, fmt.Errorf("failed to submit job: %w", err)
	}
	if verbose {
		fmt.Fprintf(os.Stderr, "Submitted job %s\n", jobID)
	}

	p := poller.New(client, poller.Options{
		Interval:    cfg.PollInterval,
		MaxAttempts: cfg.PollMaxAttempts,
	})

	last := -1
	result, err := p.Wait(ctx, jobID, func(progress int) {
		if verbose && progress != last {
			fmt.Fprintf(os.Stderr, "Job %s: %d%%\n", jobID, progress)
			last = progress
		}
	})
	if err != nil {
		var failed *poller.JobFailedError
		if errors.As(err, &failed) {
			return nil, fmt.Errorf("transcription failed: %s", failed.Message)
		}
		return nil, err
	}

	var transcript transcribe.Transcript
	if err := json.Unmarshal(result, &transcript); err != nil {
		return nil, fmt.Errorf("unexpected job result: %w", err)
	}
	return &transcript, nil
}

// promptAPIKey asks for the key without echoing it
func promptAPIKey() (string, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", errors.New("OPENAI_API_KEY is not set")
	}

	fmt.Fprint(os.Stderr, "OpenAI API key: ")
	key, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read API key: %w", err)
	}

	apiKey := strings.TrimSpace(string(key))
	if apiKey == "" {
		return "", errors.New("no API key entered")
	}
	return apiKey, nil
}
