package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"
)

const (
	// DefaultAPIURL is the OpenAI speech-to-text endpoint
	DefaultAPIURL = "https://api.openai.com/v1/audio/transcriptions"
	// DefaultModel is the speech-to-text model requested when none is configured
	DefaultModel = "whisper-1"
	// DefaultResponseFormat asks for text plus segment timestamps
	DefaultResponseFormat = "verbose_json"

	// ProxyPath is where the backend exposes the proxied transcription endpoint
	ProxyPath = "/api/transcribe"
)

// Transport performs exactly one transcription call for one piece of audio
type Transport interface {
	Transcribe(ctx context.Context, a Audio) (*ChunkResult, error)
}

// Client uploads audio to an OpenAI-compatible transcription endpoint.
// The same wire format serves both the speech API and the backend proxy,
// only the endpoint and the bearer credential differ.
type Client struct {
	endpoint       string
	credential     string
	model          string
	responseFormat string
	language       string
	httpClient     *http.Client

	// direct clients refuse to send without a key; a proxy may run unauthenticated
	requireCredential bool
}

// ClientOption customises a Client
type ClientOption func(*Client)

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithLanguage sets an ISO-639-1 language hint
func WithLanguage(lang string) ClientOption {
	return func(c *Client) { c.language = lang }
}

// NewDirectClient calls the speech API with an API key
func NewDirectClient(apiURL, apiKey, model, responseFormat string, opts ...ClientOption) *Client {
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	c := newClient(apiURL, apiKey, model, responseFormat, opts)
	c.requireCredential = true
	return c
}

// NewProxyClient calls the backend's proxied endpoint with a bearer token,
// keeping the speech API key on the server. An empty token sends no
// Authorization header, for servers started without JWT_SECRET.
func NewProxyClient(serverURL, token, model, responseFormat string, opts ...ClientOption) *Client {
	endpoint := strings.TrimRight(serverURL, "/") + ProxyPath
	return newClient(endpoint, token, model, responseFormat, opts)
}

func newClient(endpoint, credential, model, responseFormat string, opts []ClientOption) *Client {
	if model == "" {
		model = DefaultModel
	}
	if responseFormat == "" {
		responseFormat = DefaultResponseFormat
	}
	c := &Client{
		endpoint:       endpoint,
		credential:     credential,
		model:          model,
		responseFormat: responseFormat,
		httpClient:     &http.Client{Timeout: 10 * time.Minute},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Endpoint returns the URL requests are sent to
func (c *Client) Endpoint() string {
	return c.endpoint
}

// apiResponse covers json and verbose_json bodies
type apiResponse struct {
	Text     string  `json:"text"`
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
}

// Transcribe uploads a as multipart form data and normalises the response
func (c *Client) Transcribe(ctx context.Context, a Audio) (*ChunkResult, error) {
	if c.requireCredential && c.credential == "" {
		return nil, &APIError{StatusCode: http.StatusUnauthorized, Message: "no API key or token configured"}
	}

	body, contentType, err := c.buildForm(a)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if c.credential != "" {
		req.Header.Set("Authorization", "Bearer "+c.credential)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, cancelled(ctx)
		}
		return nil, &APIError{Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, cancelled(ctx)
		}
		return nil, &APIError{Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: errorMessage(resp.StatusCode, data)}
	}

	return c.parseResponse(resp.Header.Get("Content-Type"), data)
}

func (c *Client) buildForm(a Audio) (io.Reader, string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	if err := mw.WriteField("model", c.model); err != nil {
		return nil, "", err
	}
	if err := mw.WriteField("response_format", c.responseFormat); err != nil {
		return nil, "", err
	}
	if c.language != "" {
		if err := mw.WriteField("language", c.language); err != nil {
			return nil, "", err
		}
	}

	name := filepath.Base(a.Name)
	if name == "" || name == "." {
		name = "audio"
	}
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		return nil, "", err
	}
	if _, err := fw.Write(a.Data); err != nil {
		return nil, "", err
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &body, mw.FormDataContentType(), nil
}

func (c *Client) parseResponse(contentType string, data []byte) (*ChunkResult, error) {
	// the proxy always answers in JSON, whatever format was requested
	if !strings.Contains(contentType, "json") && (c.responseFormat == "text" || !json.Valid(data)) {
		return &ChunkResult{Text: strings.TrimSpace(string(data))}, nil
	}

	var ar apiResponse
	if err := json.Unmarshal(data, &ar); err != nil {
		return nil, &APIError{StatusCode: http.StatusBadGateway, Message: "malformed response from transcription API", Err: err}
	}

	result := &ChunkResult{
		Text:     strings.TrimSpace(ar.Text),
		Language: ar.Language,
		Duration: ar.Duration,
	}
	for _, s := range ar.Segments {
		result.Segments = append(result.Segments, Segment{Start: s.Start, End: s.End, Text: strings.TrimSpace(s.Text)})
	}
	if result.Duration == 0 && len(result.Segments) > 0 {
		result.Duration = result.Segments[len(result.Segments)-1].End
	}
	return result, nil
}

// errorMessage extracts a readable message from {"error":{"message":...}} or {"error":"..."}
func errorMessage(status int, body []byte) string {
	var nested struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &nested); err == nil && nested.Error.Message != "" {
		return friendlyMessage(status, nested.Error.Message)
	}

	var flat struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &flat); err == nil && flat.Error != "" {
		return friendlyMessage(status, flat.Error)
	}

	return userMessage(status)
}

// friendlyMessage prefers our own wording for auth failures so users are
// not shown a key fragment echoed back by the API
func friendlyMessage(status int, msg string) string {
	if status == http.StatusUnauthorized {
		return userMessage(status)
	}
	return msg
}

var _ Transport = (*Client)(nil)
