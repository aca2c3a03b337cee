package bot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/zahareus/telegram-transcriber-bot/stt"
)

func (b *Bot) handleSubmission(ctx context.Context, ev Submission) {
	u := ev.Sender

	ok, err := b.hasAccess(ctx, u.ID)
	if err != nil {
		b.log.Error("access check", "user", u.ID, "err", err)
		b.reply(ctx, u.ID, msgTryLater)
		return
	}
	if !ok {
		b.log.Info("submission denied", "user", u.ID)
		b.reply(ctx, u.ID, msgAccessDenied)
		return
	}

	ext, eligible := ClassifyAudio(ev.Media)
	if !eligible {
		b.log.Debug(
			"ignoring non-audio attachment",
			"user", u.ID,
			"kind", ev.Media.Kind,
			"mime", ev.Media.MIMEType,
		)
		return
	}

	if ev.Media.Size > b.cfg.MaxFileSize {
		b.log.Info("file too large", "user", u.ID, "size", ev.Media.Size)
		b.reply(ctx, u.ID, fileTooLargeText(b.cfg.MaxFileSize))
		return
	}

	b.reply(ctx, u.ID, msgProcessing)

	start := time.Now()
	text, err := b.transcribe(ctx, ev.Media, ext)
	if err != nil {
		b.log.Error("transcribe", "user", u.ID, "kind", ev.Media.Kind, "err", err)
		b.reply(ctx, u.ID, failureText(err, b.cfg.MaxFileSize))
		return
	}

	text = strings.TrimSpace(text)
	if text == "" {
		b.log.Info("no speech", "user", u.ID)
		b.reply(ctx, u.ID, msgNoSpeech)
		return
	}

	runes := utf8.RuneCountInString(text)
	b.log.Info(
		"transcribed",
		"user", u.ID,
		"runes", runes,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)

	for _, chunk := range SplitMessage(TranscriptLabel, text, b.cfg.MessageLimit) {
		if _, err := b.chat.SendText(ctx, u.ID, chunk); err != nil {
			b.log.Error("send transcript", "user", u.ID, "err", err)
			return
		}
	}

	if b.cfg.Admin != 0 && !b.isAdmin(u.ID) {
		b.notifyAdmin(transcriptionNotice(u, runes))
	}
}

func failureText(err error, limit int64) string {
	switch {
	case errors.Is(err, ErrFileTooLarge):
		return fileTooLargeText(limit)
	case errors.Is(err, ErrDownload):
		return msgDownloadFailed
	}
	return transcriptionFailedText(stt.Reason(err))
}

// transcribe stages the file under TempDir and removes it on every path.
func (b *Bot) transcribe(ctx context.Context, m Media, ext string) (string, error) {
	f, err := os.CreateTemp(b.cfg.TempDir, "audio-*"+ext)
	if err != nil {
		return "", fmt.Errorf("stage audio: %w", err)
	}
	path := f.Name()
	defer func() {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			b.log.Warn("remove staged audio", "path", path, "err", err)
		}
	}()

	err = b.download(ctx, m.FileID, f)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("%w: %w", ErrDownload, cerr)
	}
	if err != nil {
		return "", err
	}

	return b.stt.Transcribe(ctx, stt.Request{
		AudioPath: path,
		MIMEType:  m.MIMEType,
		Language:  b.cfg.Language,
	})
}

// download copies at most MaxFileSize bytes within DownloadTimeout;
// declared sizes are not trusted.
func (b *Bot) download(ctx context.Context, fileID string, w io.Writer) error {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.DownloadTimeout)
	defer cancel()

	rc, err := b.chat.OpenFile(ctx, fileID)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDownload, err)
	}
	defer rc.Close()

	n, err := io.Copy(w, io.LimitReader(rc, b.cfg.MaxFileSize+1))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDownload, err)
	}
	if n > b.cfg.MaxFileSize {
		return ErrFileTooLarge
	}
	return nil
}

// notifyAdmin delivers text to the admin without holding up the caller.
// Failures are logged only.
func (b *Bot) notifyAdmin(text string) {
	b.background.Add(1)
	go func() {
		defer b.background.Done()
		ctx, cancel := context.WithTimeout(context.Background(), b.cfg.NotifyTimeout)
		defer cancel()
		if _, err := b.chat.SendText(ctx, b.cfg.Admin, text); err != nil {
			b.log.Warn("admin notice", "err", err)
		}
	}()
}
