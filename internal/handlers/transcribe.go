package handlers

import (
	"errors"
	"io"
	"net/http"

	"audiotricks/internal/transcribe"

	"github.com/dustin/go-humanize"
	"github.com/labstack/echo/v4"
)

// MaxProxyUpload is the largest file the proxy forwards in one request
const MaxProxyUpload = 25 * 1024 * 1024

// TransportFactory builds an upstream transport for the requested model,
// response format and language; empty values select the server defaults
type TransportFactory func(model, responseFormat, language string) transcribe.Transport

// TranscribeHandler forwards single-file transcription requests upstream so
// clients never hold the speech API key
type TranscribeHandler struct {
	newTransport TransportFactory
}

// NewTranscribeHandler creates a TranscribeHandler
func NewTranscribeHandler(factory TransportFactory) *TranscribeHandler {
	return &TranscribeHandler{newTransport: factory}
}

// Transcribe handles one upload with a single upstream attempt.
// The caller retries, so the proxy never multiplies upstream calls.
// POST /api/transcribe
func (h *TranscribeHandler) Transcribe(c echo.Context) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "missing file field"})
	}
	if fh.Size > MaxProxyUpload {
		return c.JSON(http.StatusRequestEntityTooLarge, map[string]string{
			"error": "audio file is too large (" + humanize.Bytes(uint64(fh.Size)) + "), split it first",
		})
	}

	f, err := fh.Open()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to open file"})
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "failed to read file"})
	}
	if len(data) == 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "audio file is empty"})
	}

	transport := h.newTransport(c.FormValue("model"), c.FormValue("response_format"), c.FormValue("language"))
	result, err := transport.Transcribe(c.Request().Context(), transcribe.Audio{Name: fh.Filename, Data: data})
	if err != nil {
		status, msg := upstreamError(err)
		if status >= 500 {
			c.Logger().Errorf("upstream transcription failed: %v", err)
		}
		return c.JSON(status, map[string]string{"error": msg})
	}

	return c.JSON(http.StatusOK, result)
}

// upstreamError maps an upstream failure onto the status the proxy client
// classifies the same way: 401 is fatal, 429 and 502 are retried, 400 is not
func upstreamError(err error) (int, string) {
	msg := err.Error()
	var apiErr *transcribe.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		msg = apiErr.Message
	}

	switch {
	case errors.Is(err, transcribe.ErrCancelled):
		// client went away
		return 499, "request cancelled"
	case errors.Is(err, transcribe.ErrAuth):
		return http.StatusUnauthorized, "transcription service rejected the server credential"
	case transcribe.IsTransient(err):
		if apiErr != nil && apiErr.StatusCode == http.StatusTooManyRequests {
			return http.StatusTooManyRequests, msg
		}
		if apiErr != nil && apiErr.StatusCode == 0 {
			msg = "transcription service unreachable"
		}
		return http.StatusBadGateway, msg
	}
	return http.StatusBadRequest, msg
}
