package bhashini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/arji-ai/arji/pkg/provider/stt"
)

// newTestProvider returns a Provider pointed at a httptest server running fn.
func newTestProvider(t *testing.T, fn http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(fn)
	t.Cleanup(srv.Close)

	p, err := New("test-key", WithEndpoint(srv.URL), WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return p
}

func TestTranscribe_Success(t *testing.T) {
	t.Parallel()

	audio := []byte("RIFF....WAVE")

	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "test-key" {
			t.Errorf("Authorization = %q, want test-key", got)
		}

		var req pipelineRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if len(req.PipelineTasks) != 1 || req.PipelineTasks[0].TaskType != "asr" {
			t.Errorf("unexpected pipeline tasks: %+v", req.PipelineTasks)
		}
		want := base64.StdEncoding.EncodeToString(audio)
		if req.InputData.Audio[0].AudioContent != want {
			t.Error("audio payload is not the base64 of the input bytes")
		}

		json.NewEncoder(w).Encode(map[string]any{
			"pipelineResponse": []map[string]any{
				{"output": []map[string]string{{"source": "  My name is Asha  "}}},
			},
		})
	})

	text, err := p.Transcribe(context.Background(), audio, "wav")
	if err != nil {
		t.Fatalf("Transcribe() error: %v", err)
	}
	if text != "My name is Asha" {
		t.Errorf("Transcribe() = %q, want trimmed transcript", text)
	}
}

func TestTranscribe_EmptyTranscript(t *testing.T) {
	t.Parallel()

	p := newTestProvider(t, func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"pipelineResponse": []map[string]any{
				{"output": []map[string]string{{"source": "   "}}},
			},
		})
	})

	_, err := p.Transcribe(context.Background(), []byte("audio"), "wav")
	if !errors.Is(err, stt.ErrEmptyTranscript) {
		t.Errorf("Transcribe() error = %v, want ErrEmptyTranscript", err)
	}
}

func TestTranscribe_HTTPError(t *testing.T) {
	t.Parallel()

	p := newTestProvider(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream busy", http.StatusBadGateway)
	})

	_, err := p.Transcribe(context.Background(), []byte("audio"), "wav")
	if err == nil {
		t.Fatal("Transcribe() succeeded, want error on non-200 status")
	}
}

func TestTranscribe_EmptyAudio(t *testing.T) {
	t.Parallel()

	p, err := New("key")
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if _, err := p.Transcribe(context.Background(), nil, "wav"); err == nil {
		t.Fatal("Transcribe(nil audio) succeeded, want error")
	}
}

func TestNew_RequiresAPIKey(t *testing.T) {
	t.Parallel()

	if _, err := New(""); err == nil {
		t.Fatal("New(\"\") succeeded, want error")
	}
}
