package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"VoxFM/config"
	"VoxFM/model"
)

// ErrTranscriptionUnavailable 未配置语音转写服务
var ErrTranscriptionUnavailable = errors.New("transcription service not configured")

// Result is a provider's transcription output for one audio payload.
type Result struct {
	Text     string
	Language string
	Segments []model.TranscriptSegment
	Words    []model.TranscriptWord
}

// Provider converts audio bytes into text with timings.
type Provider interface {
	Transcribe(ctx context.Context, audio []byte, mimeType string) (*Result, error)
}

// HTTPProvider posts audio to a whisper-compatible HTTP endpoint.
type HTTPProvider struct {
	apiURL string
	apiKey string
	client *http.Client
}

// NewHTTPProvider returns nil when no endpoint is configured, which the
// pipeline treats as transcription disabled.
func NewHTTPProvider(cfg *config.Config) *HTTPProvider {
	if !cfg.STTConfigured() {
		return nil
	}
	return &HTTPProvider{
		apiURL: cfg.STTAPIURL,
		apiKey: cfg.STTAPIKey,
		client: &http.Client{Timeout: cfg.STTTimeout},
	}
}

// sttResponse mirrors the whisper verbose-json response shape.
type sttResponse struct {
	Text     string `json:"text"`
	Language string `json:"language"`
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
	Words []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Word  string  `json:"word"`
	} `json:"words"`
}

// Transcribe uploads the audio as multipart form data and decodes the
// timestamped response.
func (p *HTTPProvider) Transcribe(ctx context.Context, audio []byte, mimeType string) (*Result, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	part, err := w.CreateFormFile("file", filenameFor(mimeType))
	if err != nil {
		return nil, fmt.Errorf("failed to build multipart body: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return nil, fmt.Errorf("failed to write audio payload: %w", err)
	}
	_ = w.WriteField("response_format", "verbose_json")
	_ = w.WriteField("timestamp_granularities[]", "segment")
	_ = w.WriteField("timestamp_granularities[]", "word")
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL, &body)
	if err != nil {
		return nil, fmt.Errorf("failed to build transcription request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transcription request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("transcription service returned %d: %s", resp.StatusCode, string(snippet))
	}

	var parsed sttResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode transcription response: %w", err)
	}

	result := &Result{
		Text:     parsed.Text,
		Language: parsed.Language,
	}
	for _, s := range parsed.Segments {
		result.Segments = append(result.Segments, model.TranscriptSegment{Start: s.Start, End: s.End, Text: s.Text})
	}
	for _, wd := range parsed.Words {
		result.Words = append(result.Words, model.TranscriptWord{Start: wd.Start, End: wd.End, Word: wd.Word})
	}
	return result, nil
}

func filenameFor(mimeType string) string {
	switch mimeType {
	case "audio/wav", "audio/x-wav":
		return "audio.wav"
	case "audio/flac":
		return "audio.flac"
	case "audio/ogg":
		return "audio.ogg"
	case "audio/mp4", "audio/m4a", "audio/x-m4a":
		return "audio.m4a"
	default:
		return "audio.mp3"
	}
}
