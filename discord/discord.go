// Package discord connects the bot to Discord direct messages. Access
// requests use "!start", approve/reject are message buttons, and audio
// arrives as attachments.
package discord

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	dis "github.com/bwmarrin/discordgo"
	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/zahareus/telegram-transcriber-bot/access"
	"github.com/zahareus/telegram-transcriber-bot/bot"
)

// downloadTimeout caps one attachment download, headers and body.
const downloadTimeout = 5 * time.Minute

// Session is the part of *discordgo.Session the adapter uses.
type Session interface {
	AddHandler(handler interface{}) func()
	Open() error
	Close() error
	UserChannelCreate(
		recipientID string,
		options ...dis.RequestOption,
	) (*dis.Channel, error)
	ChannelMessageSend(
		channelID string,
		content string,
		options ...dis.RequestOption,
	) (*dis.Message, error)
	ChannelMessageSendComplex(
		channelID string,
		data *dis.MessageSend,
		options ...dis.RequestOption,
	) (*dis.Message, error)
	ChannelMessageEditComplex(
		m *dis.MessageEdit,
		options ...dis.RequestOption,
	) (*dis.Message, error)
	InteractionRespond(
		interaction *dis.Interaction,
		resp *dis.InteractionResponse,
		options ...dis.RequestOption,
	) error
}

type Adapter struct {
	session Session
	client  *http.Client
	workers int
	log     *log.Logger

	mu         sync.Mutex
	dmChannels map[access.Identity]string
}

func New(token string, workers int, logger *log.Logger) (*Adapter, error) {
	dg, err := dis.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("error creating Discord session: %w", err)
	}
	dg.Identify.Intents = dis.IntentsDirectMessages | dis.IntentsMessageContent
	return NewWithSession(dg, &http.Client{Timeout: downloadTimeout}, workers, logger), nil
}

func NewWithSession(s Session, client *http.Client, workers int, logger *log.Logger) *Adapter {
	if workers <= 0 {
		workers = 8
	}
	return &Adapter{
		session:    s,
		client:     client,
		workers:    workers,
		log:        logger,
		dmChannels: make(map[access.Identity]string),
	}
}

// Run opens the gateway and dispatches events until ctx is done.
func (a *Adapter) Run(ctx context.Context, handle func(context.Context, bot.Event)) error {
	handlerCtx := context.WithoutCancel(ctx)
	var g errgroup.Group
	g.SetLimit(a.workers)
	dispatch := func(ev bot.Event) {
		g.Go(func() error {
			handle(handlerCtx, ev)
			return nil
		})
	}

	removeMessages := a.session.AddHandler(func(_ *dis.Session, m *dis.MessageCreate) {
		if ev, ok := ConvertMessage(m.Message); ok {
			dispatch(ev)
		}
	})
	defer removeMessages()
	removeInteractions := a.session.AddHandler(func(_ *dis.Session, i *dis.InteractionCreate) {
		if ev, ok := ConvertInteraction(i.Interaction); ok {
			dispatch(ev)
		}
	})
	defer removeInteractions()

	if err := a.session.Open(); err != nil {
		return fmt.Errorf("error opening connection: %w", err)
	}
	a.log.Info("gateway open", "workers", a.workers)

	<-ctx.Done()
	a.log.Info("closing gateway, waiting for handlers")
	err := a.session.Close()
	_ = g.Wait()
	return err
}

// dmChannel returns the DM channel for to. The lock is not held across
// the API call; Discord returns the same channel to concurrent callers.
func (a *Adapter) dmChannel(to access.Identity) (string, error) {
	a.mu.Lock()
	id, ok := a.dmChannels[to]
	a.mu.Unlock()
	if ok {
		return id, nil
	}

	ch, err := a.session.UserChannelCreate(to.String())
	if err != nil {
		return "", fmt.Errorf("discord: open DM with %s: %w", to, err)
	}

	a.mu.Lock()
	a.dmChannels[to] = ch.ID
	a.mu.Unlock()
	return ch.ID, nil
}

func (a *Adapter) SendText(ctx context.Context, to access.Identity, text string) (bot.MessageRef, error) {
	if err := ctx.Err(); err != nil {
		return bot.MessageRef{}, err
	}
	channelID, err := a.dmChannel(to)
	if err != nil {
		return bot.MessageRef{}, err
	}
	m, err := a.session.ChannelMessageSend(channelID, text)
	if err != nil {
		return bot.MessageRef{}, fmt.Errorf("discord send: %w", err)
	}
	return bot.MessageRef{ChatID: m.ChannelID, MessageID: m.ID}, nil
}

func (a *Adapter) SendDecisionPrompt(
	ctx context.Context,
	to access.Identity,
	text string,
	target access.Identity,
) (bot.MessageRef, error) {
	if err := ctx.Err(); err != nil {
		return bot.MessageRef{}, err
	}
	channelID, err := a.dmChannel(to)
	if err != nil {
		return bot.MessageRef{}, err
	}
	m, err := a.session.ChannelMessageSendComplex(channelID, &dis.MessageSend{
		Content:    text,
		Components: decisionButtons(target),
	})
	if err != nil {
		return bot.MessageRef{}, fmt.Errorf("discord send: %w", err)
	}
	return bot.MessageRef{ChatID: m.ChannelID, MessageID: m.ID}, nil
}

func decisionButtons(target access.Identity) []dis.MessageComponent {
	return []dis.MessageComponent{
		dis.ActionsRow{
			Components: []dis.MessageComponent{
				dis.Button{
					Label:    "Схвалити",
					Style:    dis.SuccessButton,
					CustomID: bot.DecisionToken(access.Approve, target),
				},
				dis.Button{
					Label:    "Відхилити",
					Style:    dis.DangerButton,
					CustomID: bot.DecisionToken(access.Reject, target),
				},
			},
		},
	}
}

// EditText rewrites the content of a message. Buttons are left in place;
// a second press resolves to a no-op.
func (a *Adapter) EditText(ctx context.Context, ref bot.MessageRef, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	edit := dis.NewMessageEdit(ref.ChatID, ref.MessageID).SetContent(text)
	if _, err := a.session.ChannelMessageEditComplex(edit); err != nil {
		return fmt.Errorf("discord edit: %w", err)
	}
	return nil
}

// AcknowledgeCallback defers the component interaction so Discord stops
// showing it as pending. Discord has no toast, so text is unused.
func (a *Adapter) AcknowledgeCallback(ctx context.Context, callbackID, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	id, token, ok := strings.Cut(callbackID, ":")
	if !ok {
		return fmt.Errorf("discord: malformed callback id")
	}
	err := a.session.InteractionRespond(
		&dis.Interaction{ID: id, Token: token},
		&dis.InteractionResponse{Type: dis.InteractionResponseDeferredMessageUpdate},
	)
	if err != nil {
		return fmt.Errorf("discord respond: %w", err)
	}
	return nil
}

// OpenFile downloads an attachment; the file id is its CDN URL.
func (a *Adapter) OpenFile(ctx context.Context, fileID string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileID, nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("discord download: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("discord download: %s", resp.Status)
	}
	return resp.Body, nil
}

func parseSnowflake(s string) (access.Identity, bool) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	return access.Identity(n), true
}

var _ bot.Messenger = (*Adapter)(nil)
