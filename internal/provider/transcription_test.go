package provider

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"
)

// roundTripFunc lets a test stand in for a real network call without
// depending on the hardcoded Groq endpoint being reachable.
type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestTranscribeRequiresAPIKey(t *testing.T) {
	p := NewGroqTranscriptionProvider("")
	_, err := p.Transcribe(context.Background(), "irrelevant.ogg")
	if err == nil {
		t.Fatal("expected an error when no API key is configured")
	}
}

func TestTranscribeMissingFile(t *testing.T) {
	p := NewGroqTranscriptionProvider("fake-key")
	_, err := p.Transcribe(context.Background(), filepath.Join(t.TempDir(), "missing.ogg"))
	if err == nil {
		t.Fatal("expected an error reading a nonexistent audio file")
	}
}

func TestTranscribeReturnsText(t *testing.T) {
	audioPath := filepath.Join(t.TempDir(), "note.ogg")
	if err := os.WriteFile(audioPath, []byte("fake audio bytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	p := NewGroqTranscriptionProvider("fake-key")
	p.httpClient = &http.Client{
		Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
			if req.Header.Get("Authorization") != "Bearer fake-key" {
				t.Fatalf("expected bearer auth header, got %q", req.Header.Get("Authorization"))
			}
			body := io.NopCloser(bytes.NewBufferString(`{"text":"hello from the recording"}`))
			return &http.Response{StatusCode: http.StatusOK, Body: body, Header: make(http.Header)}, nil
		}),
	}

	text, err := p.Transcribe(context.Background(), audioPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "hello from the recording" {
		t.Fatalf("unexpected transcription result: %q", text)
	}
}

func TestTranscribeSurfacesNonOKStatus(t *testing.T) {
	audioPath := filepath.Join(t.TempDir(), "note.ogg")
	if err := os.WriteFile(audioPath, []byte("fake audio bytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	p := NewGroqTranscriptionProvider("fake-key")
	p.httpClient = &http.Client{
		Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
			body := io.NopCloser(bytes.NewBufferString(`{"error":"rate limited"}`))
			return &http.Response{StatusCode: http.StatusTooManyRequests, Status: "429 Too Many Requests", Body: body, Header: make(http.Header)}, nil
		}),
	}

	_, err := p.Transcribe(context.Background(), audioPath)
	if err == nil {
		t.Fatal("expected a non-200 response to surface as an error")
	}
}
