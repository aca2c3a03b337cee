package stt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/sashabaranov/go-openai"
)

const (
	OpenAIProvider = "openai"

	defaultTimeout = 120 * time.Second
)

type OpenAIWhisper struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	log     *log.Logger
}

type OpenAIOption func(*openai.ClientConfig, *OpenAIWhisper)

// WithBaseURL points the client at an OpenAI-compatible endpoint.
func WithBaseURL(url string) OpenAIOption {
	return func(cfg *openai.ClientConfig, _ *OpenAIWhisper) {
		cfg.BaseURL = url
	}
}

func WithModel(model string) OpenAIOption {
	return func(_ *openai.ClientConfig, w *OpenAIWhisper) {
		w.model = model
	}
}

// WithTimeout bounds each transcription call; zero keeps the default.
func WithTimeout(d time.Duration) OpenAIOption {
	return func(_ *openai.ClientConfig, w *OpenAIWhisper) {
		if d > 0 {
			w.timeout = d
		}
	}
}

func NewOpenAIWhisper(
	apiKey string,
	logger *log.Logger,
	opts ...OpenAIOption,
) *OpenAIWhisper {
	cfg := openai.DefaultConfig(apiKey)
	w := &OpenAIWhisper{
		model:   openai.Whisper1,
		timeout: defaultTimeout,
		log:     logger,
	}
	for _, opt := range opts {
		opt(&cfg, w)
	}
	w.client = openai.NewClientWithConfig(cfg)
	return w
}

func (w *OpenAIWhisper) Transcribe(ctx context.Context, req Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	start := time.Now()
	resp, err := w.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    w.model,
		FilePath: req.AudioPath,
		Language: req.Language,
	})
	if err != nil {
		return "", openAIError(err)
	}

	w.log.Debug(
		"transcribed",
		"provider", OpenAIProvider,
		"chars", len(resp.Text),
		"took", time.Since(start),
	)
	return strings.TrimSpace(resp.Text), nil
}

func openAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &ProviderError{
			Provider: OpenAIProvider,
			Message:  apiErr.Message,
			Err:      err,
		}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &ProviderError{
			Provider: OpenAIProvider,
			Message:  fmt.Sprintf("HTTP %d", reqErr.HTTPStatusCode),
			Err:      err,
		}
	}

	return &ProviderError{Provider: OpenAIProvider, Err: err}
}
