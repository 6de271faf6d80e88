// Package config loads runtime settings from .env, an optional ini file, and
// the environment, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"gopkg.in/ini.v1"
)

// Transcription backends
const (
	BackendOpenAI = "openai"
	BackendLocal  = "local"
)

// Config holds every setting of the server and the CLI
type Config struct {
	Port    string
	DataDir string
	DBPath  string

	OpenAIAPIKey      string
	APIURL            string
	Model             string
	ResponseFormat    string
	Language          string
	Backend           string
	LocalModelDir     string
	ChunkThreshold    int64
	MaxRetries        int
	RetryDelay        time.Duration
	RequestsPerMinute int
	FFmpegPath        string
	FFprobePath       string

	JWTSecret string
	InboxDir  string

	PollInterval    time.Duration
	PollMaxAttempts int
}

// Default returns the built-in settings
func Default() *Config {
	return &Config{
		Port:            "8080",
		DataDir:         "data",
		DBPath:          "data/audiotricks.db",
		APIURL:          "https://api.openai.com/v1/audio/transcriptions",
		Model:           "whisper-1",
		ResponseFormat:  "verbose_json",
		Backend:         BackendOpenAI,
		ChunkThreshold:  24 * 1024 * 1024,
		MaxRetries:      3,
		RetryDelay:      2 * time.Second,
		FFmpegPath:      "ffmpeg",
		FFprobePath:     "ffprobe",
		PollInterval:    5 * time.Second,
		PollMaxAttempts: 60,
	}
}

// iniKeys maps environment names to their section and key in the ini file
var iniKeys = []struct{ env, section, key string }{
	{"PORT", "server", "port"},
	{"DATA_DIR", "server", "data_dir"},
	{"DB_PATH", "server", "db_path"},
	{"JWT_SECRET", "server", "jwt_secret"},
	{"INBOX_DIR", "server", "inbox_dir"},
	{"OPENAI_API_KEY", "transcription", "api_key"},
	{"TRANSCRIBE_API_URL", "transcription", "api_url"},
	{"TRANSCRIBE_MODEL", "transcription", "model"},
	{"TRANSCRIBE_RESPONSE_FORMAT", "transcription", "response_format"},
	{"TRANSCRIBE_LANGUAGE", "transcription", "language"},
	{"TRANSCRIBE_BACKEND", "transcription", "backend"},
	{"LOCAL_MODEL_DIR", "transcription", "local_model_dir"},
	{"CHUNK_THRESHOLD", "transcription", "chunk_threshold"},
	{"MAX_RETRIES", "transcription", "max_retries"},
	{"RETRY_DELAY", "transcription", "retry_delay"},
	{"REQUESTS_PER_MINUTE", "transcription", "requests_per_minute"},
	{"FFMPEG_PATH", "transcription", "ffmpeg_path"},
	{"FFPROBE_PATH", "transcription", "ffprobe_path"},
	{"POLL_INTERVAL", "poller", "interval"},
	{"POLL_MAX_ATTEMPTS", "poller", "max_attempts"},
}

// Load reads .env (if present), then the ini file named by AUDIOTRICKS_CONFIG
// (default audiotricks.ini, if present), then the environment
func Load() (*Config, error) {
	// a missing .env is not an error
	_ = godotenv.Load()

	path := os.Getenv("AUDIOTRICKS_CONFIG")
	if path == "" {
		path = "audiotricks.ini"
	}

	values := map[string]string{}
	if _, err := os.Stat(path); err == nil {
		file, err := ini.Load(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
		for _, k := range iniKeys {
			if v := file.Section(k.section).Key(k.key).String(); v != "" {
				values[k.env] = v
			}
		}
	}

	for _, k := range iniKeys {
		if v, ok := os.LookupEnv(k.env); ok && v != "" {
			values[k.env] = v
		}
	}

	return FromValues(values)
}

// FromValues builds a Config from environment-style keys on top of Default
func FromValues(values map[string]string) (*Config, error) {
	cfg := Default()
	var errs []error

	str := func(key string, dst *string) {
		if v, ok := values[key]; ok && v != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	num := func(key string, dst *int) {
		if v, ok := values[key]; ok && v != "" {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := values[key]; ok && v != "" {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	str("PORT", &cfg.Port)
	str("DATA_DIR", &cfg.DataDir)
	str("DB_PATH", &cfg.DBPath)
	str("JWT_SECRET", &cfg.JWTSecret)
	str("INBOX_DIR", &cfg.InboxDir)
	str("OPENAI_API_KEY", &cfg.OpenAIAPIKey)
	str("TRANSCRIBE_API_URL", &cfg.APIURL)
	str("TRANSCRIBE_MODEL", &cfg.Model)
	str("TRANSCRIBE_RESPONSE_FORMAT", &cfg.ResponseFormat)
	str("TRANSCRIBE_LANGUAGE", &cfg.Language)
	str("TRANSCRIBE_BACKEND", &cfg.Backend)
	str("LOCAL_MODEL_DIR", &cfg.LocalModelDir)
	str("FFMPEG_PATH", &cfg.FFmpegPath)
	str("FFPROBE_PATH", &cfg.FFprobePath)
	num("MAX_RETRIES", &cfg.MaxRetries)
	num("REQUESTS_PER_MINUTE", &cfg.RequestsPerMinute)
	num("POLL_MAX_ATTEMPTS", &cfg.PollMaxAttempts)
	dur("RETRY_DELAY", &cfg.RetryDelay)
	dur("POLL_INTERVAL", &cfg.PollInterval)

	if v := values["CHUNK_THRESHOLD"]; v != "" {
		n, err := humanize.ParseBytes(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("CHUNK_THRESHOLD: %w", err))
		} else {
			cfg.ChunkThreshold = int64(n)
		}
	}

	// DB_PATH follows DATA_DIR unless set explicitly
	if _, ok := values["DB_PATH"]; !ok && values["DATA_DIR"] != "" {
		cfg.DBPath = strings.TrimRight(cfg.DataDir, "/") + "/audiotricks.db"
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports settings that cannot work together
func (c *Config) Validate() error {
	var errs []error

	switch c.Backend {
	case BackendOpenAI:
		if c.APIURL == "" {
			errs = append(errs, errors.New("TRANSCRIBE_API_URL is required"))
		}
	case BackendLocal:
		if c.LocalModelDir == "" {
			errs = append(errs, errors.New("LOCAL_MODEL_DIR is required for the local backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("TRANSCRIBE_BACKEND must be %q or %q, got %q", BackendOpenAI, BackendLocal, c.Backend))
	}

	switch c.ResponseFormat {
	case "json", "verbose_json", "text":
	default:
		// srt and vtt carry no parseable segments
		errs = append(errs, fmt.Errorf("TRANSCRIBE_RESPONSE_FORMAT must be json, verbose_json or text, got %q", c.ResponseFormat))
	}
	if c.ChunkThreshold <= 0 {
		errs = append(errs, errors.New("CHUNK_THRESHOLD must be positive"))
	}
	if c.MaxRetries < 1 {
		errs = append(errs, errors.New("MAX_RETRIES must be at least 1"))
	}
	if c.RetryDelay < 0 {
		errs = append(errs, errors.New("RETRY_DELAY must not be negative"))
	}
	if c.RequestsPerMinute < 0 {
		errs = append(errs, errors.New("REQUESTS_PER_MINUTE must not be negative"))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, errors.New("POLL_INTERVAL must be positive"))
	}
	if c.PollMaxAttempts < 1 {
		errs = append(errs, errors.New("POLL_MAX_ATTEMPTS must be at least 1"))
	}
	if c.Port == "" {
		errs = append(errs, errors.New("PORT is required"))
	}

	return errors.Join(errs...)
}

// NeedsAPIKey reports whether transcription calls the speech API directly
func (c *Config) NeedsAPIKey() bool {
	return c.Backend == BackendOpenAI
}
