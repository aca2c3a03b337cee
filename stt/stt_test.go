package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/generative-ai-go/genai"
)

func writeClip(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("OggS fake audio"), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func newWhisperServer(t *testing.T, handler http.HandlerFunc) *OpenAIWhisper {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewOpenAIWhisper(
		"test-key",
		log.New(io.Discard),
		WithBaseURL(srv.URL+"/v1"),
		WithTimeout(5*time.Second),
	)
}

func TestOpenAIWhisperTranscribe(t *testing.T) {
	var gotLanguage, gotModel, gotAuth string
	w := newWhisperServer(t, func(rw http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/transcriptions" {
			http.NotFound(rw, r)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(rw, err.Error(), http.StatusBadRequest)
			return
		}
		gotLanguage = r.FormValue("language")
		gotModel = r.FormValue("model")
		gotAuth = r.Header.Get("Authorization")
		rw.Header().Set("Content-Type", "application/json")
		fmt.Fprint(rw, `{"text":"  привіт світ \n"}`)
	})

	text, err := w.Transcribe(context.Background(), Request{
		AudioPath: writeClip(t, "voice.ogg"),
		Language:  "uk",
	})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "привіт світ" {
		t.Errorf("text = %q, want %q", text, "привіт світ")
	}
	if gotLanguage != "uk" {
		t.Errorf("language = %q, want uk", gotLanguage)
	}
	if gotModel != "whisper-1" {
		t.Errorf("model = %q, want whisper-1", gotModel)
	}
	if gotAuth != "Bearer test-key" {
		t.Errorf("Authorization = %q", gotAuth)
	}
}

func TestOpenAIWhisperProviderError(t *testing.T) {
	w := newWhisperServer(t, func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "application/json")
		rw.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(rw, `{"error":{"message":"Invalid file format.","type":"invalid_request_error"}}`)
	})

	_, err := w.Transcribe(context.Background(), Request{AudioPath: writeClip(t, "clip.ogg")})
	if err == nil {
		t.Fatal("Transcribe succeeded on a 400 response")
	}
	var perr *ProviderError
	if !errors.As(err, &perr) {
		t.Fatalf("err = %T %v, want *ProviderError", err, err)
	}
	if perr.Provider != OpenAIProvider {
		t.Errorf("Provider = %q", perr.Provider)
	}
	if got := Reason(err); got != "Invalid file format." {
		t.Errorf("Reason = %q, want provider message", got)
	}
}

func TestOpenAIWhisperTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		<-release
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	w := NewOpenAIWhisper(
		"k",
		log.New(io.Discard),
		WithBaseURL(srv.URL+"/v1"),
		WithTimeout(50*time.Millisecond),
	)
	_, err := w.Transcribe(context.Background(), Request{AudioPath: writeClip(t, "clip.ogg")})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if Reason(err) != "" {
		t.Errorf("timeout should carry no provider message, got %q", Reason(err))
	}
}

func TestUnavailable(t *testing.T) {
	_, err := Unavailable{Provider: OpenAIProvider}.Transcribe(context.Background(), Request{})
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("err = %v, want ErrNotConfigured", err)
	}
	if Reason(err) == "" {
		t.Error("Unavailable error has no user-facing reason")
	}
}

func TestReasonWrapped(t *testing.T) {
	inner := &ProviderError{Provider: "x", Message: "quota exceeded"}
	err := fmt.Errorf("transcribe: %w", inner)
	if got := Reason(err); got != "quota exceeded" {
		t.Errorf("Reason = %q", got)
	}
	if got := Reason(errors.New("plain")); got != "" {
		t.Errorf("Reason of plain error = %q", got)
	}
}

func TestContentType(t *testing.T) {
	tests := []struct {
		req  Request
		want string
	}{
		{Request{MIMEType: "audio/ogg; codecs=opus"}, "audio/ogg"},
		{Request{MIMEType: "audio/mpeg"}, "audio/mpeg"},
		{Request{AudioPath: "/tmp/a.oga"}, "audio/ogg"},
		{Request{AudioPath: "/tmp/a.M4A"}, "audio/mp4"},
		{Request{AudioPath: "/tmp/a.wav"}, "audio/wav"},
		{Request{AudioPath: "/tmp/a"}, "application/octet-stream"},
	}
	for _, tt := range tests {
		if got := tt.req.ContentType(); got != tt.want {
			t.Errorf("%+v ContentType() = %q, want %q", tt.req, got, tt.want)
		}
	}
}

func TestGeminiResponseText(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{Content: &genai.Content{Parts: []genai.Part{genai.Text("привіт "), genai.Text("світ\n")}}},
			{Content: &genai.Content{Parts: []genai.Part{genai.Text("alternative")}}},
		},
	}
	if got := responseText(resp); got != "привіт світ" {
		t.Errorf("responseText = %q", got)
	}
	if got := responseText(nil); got != "" {
		t.Errorf("responseText(nil) = %q", got)
	}
}

func TestGeminiPrompt(t *testing.T) {
	if p := geminiPrompt("uk"); !strings.Contains(p, `"uk"`) {
		t.Errorf("prompt %q does not carry the language hint", p)
	}
	if p := geminiPrompt(""); strings.Contains(p, "language") {
		t.Errorf("prompt %q mentions a language without a hint", p)
	}
}

type fakeFiles struct {
	uploaded []byte
	mime     string
	polls    int
	final    genai.FileState
	deleted  []string
}

func (f *fakeFiles) UploadFile(ctx context.Context, name string, r io.Reader, opts *genai.UploadFileOptions) (*genai.File, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	f.uploaded, f.mime = data, opts.MIMEType
	return &genai.File{Name: "files/clip", URI: "https://files.example/clip", State: genai.FileStateProcessing}, nil
}

func (f *fakeFiles) GetFile(ctx context.Context, name string) (*genai.File, error) {
	f.polls++
	if f.polls < 2 {
		return &genai.File{Name: name, State: genai.FileStateProcessing}, nil
	}
	return &genai.File{Name: name, URI: "https://files.example/clip", State: f.final}, nil
}

func (f *fakeFiles) DeleteFile(ctx context.Context, name string) error {
	f.deleted = append(f.deleted, name)
	return nil
}

func newFileGemini(files *fakeFiles, inlineLimit int64) *Gemini {
	return &Gemini{
		files:       files,
		inlineLimit: inlineLimit,
		pollEvery:   time.Millisecond,
		timeout:     time.Second,
		log:         log.New(io.Discard),
	}
}

func TestGeminiSmallClipInline(t *testing.T) {
	files := &fakeFiles{final: genai.FileStateActive}
	g := newFileGemini(files, defaultInlineLimit)

	part, release, err := g.audioPart(context.Background(), Request{AudioPath: writeClip(t, "voice.ogg")})
	if err != nil {
		t.Fatal(err)
	}
	release()

	blob, ok := part.(genai.Blob)
	if !ok {
		t.Fatalf("part = %T, want genai.Blob", part)
	}
	if string(blob.Data) != "OggS fake audio" || blob.MIMEType != "audio/ogg" {
		t.Errorf("blob = %q %s", blob.Data, blob.MIMEType)
	}
	if files.uploaded != nil || len(files.deleted) != 0 {
		t.Error("small clip went through the File API")
	}
}

func TestGeminiLargeClipUploaded(t *testing.T) {
	files := &fakeFiles{final: genai.FileStateActive}
	g := newFileGemini(files, 4)

	part, release, err := g.audioPart(context.Background(), Request{AudioPath: writeClip(t, "voice.ogg")})
	if err != nil {
		t.Fatal(err)
	}

	fd, ok := part.(genai.FileData)
	if !ok {
		t.Fatalf("part = %T, want genai.FileData", part)
	}
	if fd.URI != "https://files.example/clip" || fd.MIMEType != "audio/ogg" {
		t.Errorf("file data = %+v", fd)
	}
	if string(files.uploaded) != "OggS fake audio" || files.mime != "audio/ogg" {
		t.Errorf("uploaded %q as %s", files.uploaded, files.mime)
	}
	if files.polls < 2 {
		t.Errorf("polled %d times, want to wait for the file to be active", files.polls)
	}
	if len(files.deleted) != 0 {
		t.Fatal("upload deleted before use")
	}

	release()
	if len(files.deleted) != 1 || files.deleted[0] != "files/clip" {
		t.Errorf("deleted = %v", files.deleted)
	}
}

func TestGeminiUploadFailedProcessing(t *testing.T) {
	files := &fakeFiles{final: genai.FileStateFailed}
	g := newFileGemini(files, 4)

	_, _, err := g.audioPart(context.Background(), Request{AudioPath: writeClip(t, "voice.ogg")})

	var perr *ProviderError
	if !errors.As(err, &perr) || perr.Message == "" {
		t.Fatalf("err = %v, want a ProviderError with a message", err)
	}
	if len(files.deleted) != 1 {
		t.Errorf("failed upload not deleted: %v", files.deleted)
	}
}
