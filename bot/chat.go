package bot

import (
	"context"
	"io"

	"github.com/zahareus/telegram-transcriber-bot/access"
)

// User is the sender of an inbound event as reported by the transport.
type User struct {
	ID access.Identity
	access.Profile
}

type MediaKind string

const (
	MediaVoice     MediaKind = "voice"
	MediaAudio     MediaKind = "audio"
	MediaDocument  MediaKind = "document"
	MediaVideoNote MediaKind = "video_note"
)

// Media describes a file attached to a message. Size and MIMEType are what
// the transport declared; neither has been verified.
type Media struct {
	Kind     MediaKind
	FileID   string
	FileName string
	MIMEType string
	Size     int64
}

// MessageRef addresses a message the bot sent, so it can be edited later.
type MessageRef struct {
	ChatID    string
	MessageID string
}

type Event interface {
	sender() access.Identity
}

// Greeting is a user's /start.
type Greeting struct {
	Sender User
}

// Decision is a press on one of the admin's approve/reject buttons. Data is
// the raw button payload and must be parsed before use.
type Decision struct {
	Actor      User
	Data       string
	CallbackID string
	Prompt     MessageRef
}

// Submission is a message carrying a file.
type Submission struct {
	Sender User
	Media  Media
}

// Command is any slash command other than /start.
type Command struct {
	Sender User
	Name   string
	Args   string
}

func (e Greeting) sender() access.Identity   { return e.Sender.ID }
func (e Decision) sender() access.Identity   { return e.Actor.ID }
func (e Submission) sender() access.Identity { return e.Sender.ID }
func (e Command) sender() access.Identity    { return e.Sender.ID }

// Messenger is the outbound half of a chat transport.
type Messenger interface {
	SendText(ctx context.Context, to access.Identity, text string) (MessageRef, error)
	// SendDecisionPrompt sends text with an approve and a reject button
	// whose payloads are DecisionToken(Approve, target) and
	// DecisionToken(Reject, target).
	SendDecisionPrompt(ctx context.Context, to access.Identity, text string, target access.Identity) (MessageRef, error)
	EditText(ctx context.Context, ref MessageRef, text string) error
	AcknowledgeCallback(ctx context.Context, callbackID string, text string) error
	OpenFile(ctx context.Context, fileID string) (io.ReadCloser, error)
}
