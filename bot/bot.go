// Package bot implements the access-gated transcription flow: users ask for
// access with /start, the admin approves or rejects them with a button, and
// approved users get their audio transcribed.
package bot

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/zahareus/telegram-transcriber-bot/access"
	"github.com/zahareus/telegram-transcriber-bot/stt"
)

var (
	ErrFileTooLarge = errors.New("file too large")
	ErrDownload     = errors.New("download failed")
	ErrNoAdmin      = errors.New("no admin configured")
)

const (
	DefaultMaxFileSize     = 25 << 20
	DefaultDownloadTimeout = 2 * time.Minute
	defaultNotifyTimeout   = 15 * time.Second
)

type Config struct {
	// Admin is the only identity whose decisions are honored. Zero means
	// none is configured; access requests then fail and are reverted.
	Admin access.Identity
	// AdminPreapproved lets Admin submit audio without a registry record.
	AdminPreapproved bool
	Language         string
	MaxFileSize      int64
	MessageLimit     int
	// TempDir is where downloads are staged; "" means os.TempDir.
	TempDir string
	// DownloadTimeout bounds fetching one file from the transport.
	DownloadTimeout time.Duration
	NotifyTimeout   time.Duration
}

type Bot struct {
	cfg   Config
	store access.Store
	chat  Messenger
	stt   stt.Transcriber
	log   *log.Logger

	background sync.WaitGroup
}

func New(
	cfg Config,
	store access.Store,
	chat Messenger,
	transcriber stt.Transcriber,
	logger *log.Logger,
) *Bot {
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = DefaultMaxFileSize
	}
	if cfg.MessageLimit <= 0 {
		cfg.MessageLimit = DefaultMessageLimit
	}
	if cfg.DownloadTimeout <= 0 {
		cfg.DownloadTimeout = DefaultDownloadTimeout
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = defaultNotifyTimeout
	}
	return &Bot{
		cfg:   cfg,
		store: store,
		chat:  chat,
		stt:   transcriber,
		log:   logger,
	}
}

// HandleEvent processes one inbound event to completion. It is safe to call
// from many goroutines at once; a panic in a handler is logged and swallowed
// so one bad update cannot take the transport loop down.
func (b *Bot) HandleEvent(ctx context.Context, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error(
				"handler panic",
				"event", fmt.Sprintf("%T", ev),
				"user", ev.sender(),
				"panic", r,
				"stack", string(debug.Stack()),
			)
		}
	}()

	switch ev := ev.(type) {
	case Greeting:
		b.handleGreeting(ctx, ev)
	case Decision:
		b.handleDecision(ctx, ev)
	case Submission:
		b.handleSubmission(ctx, ev)
	case Command:
		b.handleCommand(ctx, ev)
	default:
		b.log.Warn("unhandled event", "type", fmt.Sprintf("%T", ev))
	}
}

// Wait blocks until background admin notices have been delivered or have
// timed out.
func (b *Bot) Wait() {
	b.background.Wait()
}

func (b *Bot) isAdmin(id access.Identity) bool {
	return b.cfg.Admin != 0 && id == b.cfg.Admin
}

func (b *Bot) reply(ctx context.Context, to access.Identity, text string) {
	if _, err := b.chat.SendText(ctx, to, text); err != nil {
		b.log.Error("send failed", "to", to, "err", err)
	}
}

// hasAccess reads the registry on every call; approval is never cached.
func (b *Bot) hasAccess(ctx context.Context, id access.Identity) (bool, error) {
	if b.cfg.AdminPreapproved && b.isAdmin(id) {
		return true, nil
	}
	return access.IsApproved(ctx, b.store, id)
}

func (b *Bot) handleGreeting(ctx context.Context, ev Greeting) {
	u := ev.Sender
	b.log.Info("start", "user", u.ID, "username", u.Username)

	if b.cfg.AdminPreapproved && b.isAdmin(u.ID) {
		b.reply(ctx, u.ID, msgAdminWelcome)
		return
	}

	outcome, err := b.store.BeginRequest(ctx, u.ID, u.Profile)
	if err != nil {
		b.log.Error("begin request", "user", u.ID, "err", err)
		b.reply(ctx, u.ID, msgTryLater)
		return
	}
	b.log.Debug("begin request", "user", u.ID, "outcome", outcome)

	switch outcome {
	case access.AlreadyPending:
		b.reply(ctx, u.ID, msgAlreadyPending)
		return
	case access.AlreadyApproved:
		b.reply(ctx, u.ID, msgAlreadyApproved)
		return
	case access.AlreadyRejected:
		b.reply(ctx, u.ID, msgAlreadyRejected)
		return
	}

	b.reply(ctx, u.ID, greetingText(u))

	if err := b.requestDecision(ctx, u); err != nil {
		b.log.Error("notify admin", "user", u.ID, "err", err)
		reverted, rerr := b.store.RevertToUnregistered(ctx, u.ID)
		if rerr != nil {
			b.log.Error("revert request", "user", u.ID, "err", rerr)
		} else if !reverted {
			b.log.Warn("request was decided before revert", "user", u.ID)
		}
		b.reply(ctx, u.ID, msgAdminUnreachable)
	}
}

func (b *Bot) requestDecision(ctx context.Context, u User) error {
	if b.cfg.Admin == 0 {
		return ErrNoAdmin
	}
	_, err := b.chat.SendDecisionPrompt(ctx, b.cfg.Admin, accessRequestText(u), u.ID)
	return err
}

func (b *Bot) handleDecision(ctx context.Context, ev Decision) {
	if !b.isAdmin(ev.Actor.ID) {
		b.log.Warn("decision from non-admin ignored", "actor", ev.Actor.ID)
		return
	}

	tok := ParseDecisionToken(ev.Data)
	if !tok.Valid {
		b.log.Warn("malformed decision payload", "data", ev.Data)
		b.acknowledge(ctx, ev.CallbackID, "")
		b.reply(ctx, ev.Actor.ID, msgInvalidDecision)
		return
	}

	outcome, rec, err := b.store.Resolve(ctx, tok.Target, tok.Decision)
	if err != nil {
		b.log.Error("resolve", "target", tok.Target, "decision", tok.Decision, "err", err)
		b.acknowledge(ctx, ev.CallbackID, "")
		b.reply(ctx, ev.Actor.ID, msgTryLater)
		return
	}
	b.log.Info("decision", "target", tok.Target, "decision", tok.Decision, "outcome", outcome)

	switch outcome {
	case access.Applied:
		b.acknowledge(ctx, ev.CallbackID, "")
		if err := b.chat.EditText(ctx, ev.Prompt, decidedPromptText(rec)); err != nil {
			b.log.Error("edit prompt", "target", tok.Target, "err", err)
		}
		b.reply(ctx, tok.Target, decisionNotice(tok.Decision))
	case access.NotPending:
		b.acknowledge(ctx, ev.CallbackID, "")
	case access.Unknown:
		b.acknowledge(ctx, ev.CallbackID, "")
		b.reply(ctx, ev.Actor.ID, msgUnknownUser)
	}
}

func (b *Bot) acknowledge(ctx context.Context, callbackID, text string) {
	if callbackID == "" {
		return
	}
	if err := b.chat.AcknowledgeCallback(ctx, callbackID, text); err != nil {
		b.log.Warn("acknowledge callback", "id", callbackID, "err", err)
	}
}

func (b *Bot) handleCommand(ctx context.Context, ev Command) {
	u := ev.Sender
	switch ev.Name {
	case "help":
		text := msgHelp
		if b.isAdmin(u.ID) {
			text += msgAdminHelp
		}
		b.reply(ctx, u.ID, text)
	case "status":
		if b.cfg.AdminPreapproved && b.isAdmin(u.ID) {
			b.reply(ctx, u.ID, msgAdminWelcome)
			return
		}
		rec, ok, err := b.store.Lookup(ctx, u.ID)
		if err != nil {
			b.log.Error("lookup", "user", u.ID, "err", err)
			b.reply(ctx, u.ID, msgTryLater)
			return
		}
		b.reply(ctx, u.ID, statusText(rec, ok))
	case "pending":
		if !b.isAdmin(u.ID) {
			return
		}
		b.listPending(ctx, u.ID)
	default:
		b.log.Debug("unknown command", "user", u.ID, "command", ev.Name)
	}
}

func (b *Bot) listPending(ctx context.Context, to access.Identity) {
	recs, err := b.store.List(ctx)
	if err != nil {
		b.log.Error("list", "err", err)
		b.reply(ctx, to, msgTryLater)
		return
	}

	var pending []access.Record
	for _, r := range recs {
		if r.State == access.Pending {
			pending = append(pending, r)
		}
	}
	if len(pending) == 0 {
		b.reply(ctx, to, msgNoPending)
		return
	}
	for _, chunk := range SplitMessage("", pendingText(pending), b.cfg.MessageLimit) {
		b.reply(ctx, to, chunk)
	}
}
