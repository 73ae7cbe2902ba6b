package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"time"
)

// TranscriptionProvider turns an audio file into text, for voice notes
// and audio attachments a channel adapter downloads from the
// originating platform.
type TranscriptionProvider interface {
	Transcribe(ctx context.Context, audioPath string) (string, error)
}

// GroqTranscriptionProvider calls Groq's Whisper-compatible
// audio/transcriptions endpoint, mirroring the original assistant's
// own transcription provider (no Go SDK for Groq exists in the
// retrieved pack, so this talks to the REST endpoint directly with a
// multipart POST over stdlib net/http, the same shape the Telegram and
// Slack adapters use for their file uploads).
type GroqTranscriptionProvider struct {
	apiKey     string
	model      string
	httpClient *http.Client
}

func NewGroqTranscriptionProvider(apiKey string) *GroqTranscriptionProvider {
	model := "whisper-large-v3-turbo"
	return &GroqTranscriptionProvider{
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func (p *GroqTranscriptionProvider) Transcribe(ctx context.Context, audioPath string) (string, error) {
	if p.apiKey == "" {
		return "", fmt.Errorf("transcription: no API key configured")
	}

	file, err := os.ReadFile(audioPath)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	_ = w.WriteField("model", p.model)
	part, err := w.CreateFormFile("file", "audio")
	if err != nil {
		return "", err
	}
	if _, err := part.Write(file); err != nil {
		return "", err
	}
	w.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		"https://api.groq.com/openai/v1/audio/transcriptions", &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcription request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("transcription failed: %s: %s", resp.Status, string(body))
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", err
	}
	return result.Text, nil
}
