package bot

import (
	"mime"
	"path/filepath"
	"strings"
)

// Containers the speech-to-text providers accept, by extension.
var audioExtensions = map[string]bool{
	".flac": true,
	".m4a":  true,
	".mp3":  true,
	".mp4":  true,
	".mpeg": true,
	".mpga": true,
	".oga":  true,
	".ogg":  true,
	".opus": true,
	".wav":  true,
	".webm": true,
}

var mimeExtensions = map[string]string{
	"audio/ogg":    ".ogg",
	"audio/opus":   ".opus",
	"audio/mpeg":   ".mp3",
	"audio/mp3":    ".mp3",
	"audio/mp4":    ".m4a",
	"audio/m4a":    ".m4a",
	"audio/x-m4a":  ".m4a",
	"audio/aac":    ".m4a",
	"audio/wav":    ".wav",
	"audio/x-wav":  ".wav",
	"audio/wave":   ".wav",
	"audio/webm":   ".webm",
	"audio/flac":   ".flac",
	"audio/x-flac": ".flac",
	"video/mp4":    ".mp4",
}

// ClassifyAudio reports whether m is audio the bot can transcribe and the
// file extension to stage it under.
func ClassifyAudio(m Media) (string, bool) {
	if m.FileID == "" {
		return "", false
	}

	switch m.Kind {
	case MediaVoice:
		return ".ogg", true
	case MediaVideoNote:
		return ".mp4", true
	case MediaAudio, MediaDocument:
	default:
		return "", false
	}

	if ext := strings.ToLower(filepath.Ext(m.FileName)); audioExtensions[ext] {
		return ext, true
	}

	mt, _, err := mime.ParseMediaType(m.MIMEType)
	if err != nil {
		return "", false
	}
	if ext, ok := mimeExtensions[mt]; ok {
		return ext, true
	}
	// Telegram marks every audio attachment as MediaAudio even when the
	// type is unusual; let the provider decide on those.
	if m.Kind == MediaAudio && strings.HasPrefix(mt, "audio/") {
		return ".ogg", true
	}
	return "", false
}
