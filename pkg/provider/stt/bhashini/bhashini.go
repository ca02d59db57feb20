// Package bhashini provides an stt.Provider backed by the Bhashini inference
// pipeline API (https://bhashini.gov.in), which fronts AI4Bharat ASR models.
package bhashini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/arji-ai/arji/pkg/provider/stt"
)

const (
	defaultEndpoint     = "https://dhruva-api.bhashini.gov.in/services/inference/pipeline"
	defaultServiceID    = "ai4bharat/whisper-medium-en--gpu--t4"
	defaultLanguage     = "en"
	defaultSamplingRate = 16000
	defaultTimeout      = 30 * time.Second
)

// Option is a functional option for configuring the Bhashini Provider.
type Option func(*Provider)

// WithEndpoint overrides the pipeline inference endpoint.
func WithEndpoint(url string) Option {
	return func(p *Provider) {
		p.endpoint = url
	}
}

// WithServiceID selects the ASR model service (e.g., a regional-language model).
func WithServiceID(id string) Option {
	return func(p *Provider) {
		p.serviceID = id
	}
}

// WithLanguage sets the source language code for recognition (e.g., "hi").
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
	}
}

// WithHTTPClient replaces the HTTP client, mainly for tests.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.client = c
	}
}

// Provider implements stt.Provider against the Bhashini pipeline API.
type Provider struct {
	apiKey    string
	endpoint  string
	serviceID string
	language  string
	client    *http.Client
}

// Compile-time interface assertion.
var _ stt.Provider = (*Provider)(nil)

// New creates a Bhashini Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("bhashini: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:    apiKey,
		endpoint:  defaultEndpoint,
		serviceID: defaultServiceID,
		language:  defaultLanguage,
		client:    &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// pipelineRequest is the Bhashini pipeline task envelope for a single ASR task.
type pipelineRequest struct {
	PipelineTasks []pipelineTask `json:"pipelineTasks"`
	InputData     inputData      `json:"inputData"`
}

type pipelineTask struct {
	TaskType string     `json:"taskType"`
	Config   taskConfig `json:"config"`
}

type taskConfig struct {
	Language       langConfig `json:"language"`
	ServiceID      string     `json:"serviceId"`
	AudioFormat    string     `json:"audioFormat"`
	SamplingRate   int        `json:"samplingRate"`
	PreProcessors  []string   `json:"preProcessors"`
	PostProcessors []string   `json:"postProcessors"`
}

type langConfig struct {
	SourceLanguage string `json:"sourceLanguage"`
}

type inputData struct {
	Audio []audioInput `json:"audio"`
}

type audioInput struct {
	AudioContent string `json:"audioContent"`
}

// pipelineResponse is the subset of the pipeline reply we consume.
type pipelineResponse struct {
	PipelineResponse []struct {
		Output []struct {
			Source string `json:"source"`
		} `json:"output"`
	} `json:"pipelineResponse"`
}

// Transcribe implements stt.Provider. The audio bytes are base64-embedded in
// the request body; Bhashini expects mono 16 kHz for the default service.
func (p *Provider) Transcribe(ctx context.Context, audio []byte, format string) (string, error) {
	if len(audio) == 0 {
		return "", errors.New("bhashini: empty audio input")
	}
	if format == "" {
		format = "wav"
	}

	reqBody := pipelineRequest{
		PipelineTasks: []pipelineTask{{
			TaskType: "asr",
			Config: taskConfig{
				Language:       langConfig{SourceLanguage: p.language},
				ServiceID:      p.serviceID,
				AudioFormat:    format,
				SamplingRate:   defaultSamplingRate,
				PreProcessors:  []string{"vad"},
				PostProcessors: []string{"itn"},
			},
		}},
		InputData: inputData{
			Audio: []audioInput{{AudioContent: base64.StdEncoding.EncodeToString(audio)}},
		},
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("bhashini: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("bhashini: build request: %w", err)
	}
	req.Header.Set("Authorization", p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("bhashini: pipeline request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("bhashini: pipeline returned status %d", resp.StatusCode)
	}

	var parsed pipelineResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("bhashini: decode response: %w", err)
	}

	if len(parsed.PipelineResponse) == 0 || len(parsed.PipelineResponse[0].Output) == 0 {
		return "", stt.ErrEmptyTranscript
	}
	text := strings.TrimSpace(parsed.PipelineResponse[0].Output[0].Source)
	if text == "" {
		return "", stt.ErrEmptyTranscript
	}
	return text, nil
}
