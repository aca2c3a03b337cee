package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	GeminiProvider = "gemini"

	defaultGeminiModel = "gemini-1.5-flash"

	// Requests carrying inline data are capped at 20 MB in total; larger
	// clips go through the File API instead.
	defaultInlineLimit = 15 << 20
)

// fileStore is the File API half of *genai.Client.
type fileStore interface {
	UploadFile(ctx context.Context, name string, r io.Reader, opts *genai.UploadFileOptions) (*genai.File, error)
	GetFile(ctx context.Context, name string) (*genai.File, error)
	DeleteFile(ctx context.Context, name string) error
}

type Gemini struct {
	client      *genai.Client
	model       *genai.GenerativeModel
	files       fileStore
	inlineLimit int64
	pollEvery   time.Duration
	timeout     time.Duration
	log         *log.Logger
}

func NewGemini(
	ctx context.Context,
	apiKey string,
	model string,
	timeout time.Duration,
	logger *log.Logger,
) (*Gemini, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	if model == "" {
		model = defaultGeminiModel
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	m := client.GenerativeModel(model)
	m.SetTemperature(0)
	m.SystemInstruction = &genai.Content{
		Parts: []genai.Part{
			genai.Text("You are a speech-to-text engine. Output only the verbatim transcript of the audio, with punctuation. Output nothing if there is no speech."),
		},
	}

	return &Gemini{
		client:      client,
		model:       m,
		files:       client,
		inlineLimit: defaultInlineLimit,
		pollEvery:   2 * time.Second,
		timeout:     timeout,
		log:         logger,
	}, nil
}

func (g *Gemini) Close() error {
	return g.client.Close()
}

func (g *Gemini) Transcribe(ctx context.Context, req Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	audio, release, err := g.audioPart(ctx, req)
	if err != nil {
		return "", err
	}
	defer release()

	resp, err := g.model.GenerateContent(
		ctx,
		audio,
		genai.Text(geminiPrompt(req.Language)),
	)
	if err != nil {
		return "", geminiError(err)
	}

	text := responseText(resp)
	g.log.Debug("transcribed", "provider", GeminiProvider, "chars", len(text))
	return text, nil
}

// audioPart returns the clip as an inline blob when it is small enough and
// as an uploaded file otherwise. release deletes the upload.
func (g *Gemini) audioPart(ctx context.Context, req Request) (genai.Part, func(), error) {
	info, err := os.Stat(req.AudioPath)
	if err != nil {
		return nil, nil, fmt.Errorf("read audio file: %w", err)
	}

	if info.Size() <= g.inlineLimit {
		data, err := os.ReadFile(req.AudioPath)
		if err != nil {
			return nil, nil, fmt.Errorf("read audio file: %w", err)
		}
		return genai.Blob{MIMEType: req.ContentType(), Data: data}, func() {}, nil
	}

	f, err := os.Open(req.AudioPath)
	if err != nil {
		return nil, nil, fmt.Errorf("read audio file: %w", err)
	}
	defer f.Close()

	file, err := g.files.UploadFile(ctx, "", f, &genai.UploadFileOptions{
		DisplayName: filepath.Base(req.AudioPath),
		MIMEType:    req.ContentType(),
	})
	if err != nil {
		return nil, nil, geminiError(err)
	}
	g.log.Debug("uploaded audio", "file", file.Name, "bytes", info.Size())

	release := func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := g.files.DeleteFile(ctx, file.Name); err != nil {
			g.log.Warn("delete uploaded audio", "file", file.Name, "error", err)
		}
	}

	file, err = g.awaitActive(ctx, file)
	if err != nil {
		release()
		return nil, nil, err
	}
	return genai.FileData{URI: file.URI, MIMEType: req.ContentType()}, release, nil
}

// awaitActive polls until the service has finished processing an upload.
func (g *Gemini) awaitActive(ctx context.Context, file *genai.File) (*genai.File, error) {
	ticker := time.NewTicker(g.pollEvery)
	defer ticker.Stop()

	for file.State == genai.FileStateProcessing {
		select {
		case <-ctx.Done():
			return nil, &ProviderError{Provider: GeminiProvider, Err: ctx.Err()}
		case <-ticker.C:
		}
		var err error
		if file, err = g.files.GetFile(ctx, file.Name); err != nil {
			return nil, geminiError(err)
		}
	}
	if file.State != genai.FileStateActive {
		return nil, &ProviderError{
			Provider: GeminiProvider,
			Message:  "не вдалося обробити аудіофайл",
			Err:      fmt.Errorf("uploaded file %s is %s", file.Name, file.State),
		}
	}
	return file, nil
}

func geminiPrompt(language string) string {
	if language == "" {
		return "Transcribe this audio."
	}
	return fmt.Sprintf("Transcribe this audio. The expected language is %q.", language)
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	var text strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				text.WriteString(string(t))
			}
		}
		// Later candidates are alternatives, not continuations.
		break
	}
	return strings.TrimSpace(text.String())
}

func geminiError(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return &ProviderError{
			Provider: GeminiProvider,
			Message:  apiErr.Message,
			Err:      err,
		}
	}

	var blocked *genai.BlockedError
	if errors.As(err, &blocked) {
		return &ProviderError{
			Provider: GeminiProvider,
			Message:  "запит заблоковано фільтром безпеки",
			Err:      err,
		}
	}

	return &ProviderError{Provider: GeminiProvider, Err: err}
}
