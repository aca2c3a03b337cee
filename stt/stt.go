// Package stt turns recorded audio into text through a third-party
// speech-to-text service.
package stt

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"path/filepath"
	"strings"
)

var ErrNotConfigured = errors.New("transcription is not configured")

type Request struct {
	// AudioPath is a local file holding the complete clip.
	AudioPath string
	// MIMEType is the transport's hint, possibly empty.
	MIMEType string
	// Language is an ISO-639-1 hint such as "uk".
	Language string
}

type Transcriber interface {
	Transcribe(ctx context.Context, req Request) (string, error)
}

// ProviderError carries the reason a provider gave for refusing or failing a
// request, in a form fit to show the user.
type ProviderError struct {
	Provider string
	Message  string
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: %v", e.Provider, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Reason returns the provider's message from anywhere in err's chain, or ""
// when there is none.
func Reason(err error) string {
	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr.Message
	}
	return ""
}

// Unavailable stands in for a provider whose credentials are missing.
type Unavailable struct {
	Provider string
}

func (u Unavailable) Transcribe(context.Context, Request) (string, error) {
	return "", &ProviderError{
		Provider: u.Provider,
		Message:  "сервіс розпізнавання мовлення не налаштовано",
		Err:      ErrNotConfigured,
	}
}

// ContentType picks the content type for req, falling back to the file
// extension when the transport gave none.
func (req Request) ContentType() string {
	if mt := strings.TrimSpace(req.MIMEType); mt != "" {
		if base, _, err := mime.ParseMediaType(mt); err == nil {
			return base
		}
		return mt
	}
	switch ext := strings.ToLower(filepath.Ext(req.AudioPath)); ext {
	case ".oga", ".ogg", ".opus":
		return "audio/ogg"
	case ".mp3", ".mpga", ".mpeg":
		return "audio/mpeg"
	case ".m4a", ".mp4":
		return "audio/mp4"
	case ".wav":
		return "audio/wav"
	case ".webm":
		return "audio/webm"
	case ".flac":
		return "audio/flac"
	default:
		if mt := mime.TypeByExtension(ext); mt != "" {
			return mt
		}
	}
	return "application/octet-stream"
}
