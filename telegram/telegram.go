// Package telegram connects the bot to the Telegram Bot API over long
// polling.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	neturl "net/url"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/sync/errgroup"

	"github.com/zahareus/telegram-transcriber-bot/access"
	"github.com/zahareus/telegram-transcriber-bot/bot"
)

const (
	approveLabel = "✅ Схвалити"
	rejectLabel  = "❌ Відхилити"

	// requestSlack is added to the long-poll timeout to get the client
	// timeout, so a poll that is merely waiting is never cut off.
	requestSlack = 2 * time.Minute
)

type options struct {
	apiEndpoint  string
	fileEndpoint string
	client       *http.Client
	workers      int
	pollTimeout  int
}

type Option func(*options)

// WithEndpoints points the adapter at a Bot API server other than
// api.telegram.org. Both are format strings taking the token and a path.
func WithEndpoints(api, file string) Option {
	return func(o *options) {
		o.apiEndpoint = api
		o.fileEndpoint = file
	}
}

func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.client = c }
}

// WithWorkers bounds how many updates are handled at once.
func WithWorkers(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.workers = n
		}
	}
}

// WithPollTimeout sets the long-polling timeout in seconds.
func WithPollTimeout(seconds int) Option {
	return func(o *options) { o.pollTimeout = seconds }
}

type Adapter struct {
	api          *tgbotapi.BotAPI
	client       *http.Client
	fileEndpoint string
	workers      int
	pollTimeout  int
	log          *log.Logger
}

// New authenticates with getMe, so a bad token fails here rather than in
// the polling loop.
func New(token string, logger *log.Logger, opts ...Option) (*Adapter, error) {
	o := options{
		apiEndpoint:  tgbotapi.APIEndpoint,
		fileEndpoint: tgbotapi.FileEndpoint,
		workers:      8,
		pollTimeout:  60,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.client == nil {
		o.client = &http.Client{Timeout: clientTimeout(o.pollTimeout)}
	}

	api, err := tgbotapi.NewBotAPIWithClient(token, o.apiEndpoint, o.client)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", redact(err))
	}
	logger.Info("authorized", "username", api.Self.UserName, "id", api.Self.ID)

	return &Adapter{
		api:          api,
		client:       o.client,
		fileEndpoint: o.fileEndpoint,
		workers:      o.workers,
		pollTimeout:  o.pollTimeout,
		log:          logger,
	}, nil
}

// Run polls for updates until ctx is done and hands each one to handle on
// its own goroutine. Handlers in flight at shutdown run to completion
// before Run returns.
func (a *Adapter) Run(ctx context.Context, handle func(context.Context, bot.Event)) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = a.pollTimeout
	u.AllowedUpdates = []string{"message", "callback_query"}
	updates := a.api.GetUpdatesChan(u)

	handlerCtx := context.WithoutCancel(ctx)
	var g errgroup.Group
	g.SetLimit(a.workers)

	a.log.Info("polling", "workers", a.workers)
	for {
		select {
		case <-ctx.Done():
			a.api.StopReceivingUpdates()
			a.log.Info("stopping, waiting for handlers")
			_ = g.Wait()
			return nil
		case update, ok := <-updates:
			if !ok {
				_ = g.Wait()
				return errors.New("telegram: update channel closed")
			}
			ev, ok := Convert(update)
			if !ok {
				a.log.Debug("skipping update", "id", update.UpdateID)
				continue
			}
			g.Go(func() error {
				handle(handlerCtx, ev)
				return nil
			})
		}
	}
}

func (a *Adapter) SendText(ctx context.Context, to access.Identity, text string) (bot.MessageRef, error) {
	msg := tgbotapi.NewMessage(int64(to), text)
	msg.DisableWebPagePreview = true
	return a.send(ctx, msg)
}

func (a *Adapter) SendDecisionPrompt(
	ctx context.Context,
	to access.Identity,
	text string,
	target access.Identity,
) (bot.MessageRef, error) {
	msg := tgbotapi.NewMessage(int64(to), text)
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(approveLabel, bot.DecisionToken(access.Approve, target)),
			tgbotapi.NewInlineKeyboardButtonData(rejectLabel, bot.DecisionToken(access.Reject, target)),
		),
	)
	return a.send(ctx, msg)
}

func (a *Adapter) send(ctx context.Context, c tgbotapi.Chattable) (bot.MessageRef, error) {
	if err := ctx.Err(); err != nil {
		return bot.MessageRef{}, err
	}
	m, err := a.api.Send(c)
	if err != nil {
		return bot.MessageRef{}, fmt.Errorf("telegram send: %w", redact(err))
	}
	return refOf(m), nil
}

// EditText replaces the text of a message and drops its inline keyboard.
func (a *Adapter) EditText(ctx context.Context, ref bot.MessageRef, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	chatID, err := strconv.ParseInt(ref.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram edit: chat id %q: %w", ref.ChatID, err)
	}
	msgID, err := strconv.Atoi(ref.MessageID)
	if err != nil {
		return fmt.Errorf("telegram edit: message id %q: %w", ref.MessageID, err)
	}
	if _, err := a.api.Request(tgbotapi.NewEditMessageText(chatID, msgID, text)); err != nil {
		return fmt.Errorf("telegram edit: %w", redact(err))
	}
	return nil
}

func (a *Adapter) AcknowledgeCallback(ctx context.Context, callbackID, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := a.api.Request(tgbotapi.NewCallback(callbackID, text)); err != nil {
		return fmt.Errorf("telegram answer callback: %w", redact(err))
	}
	return nil
}

// OpenFile resolves fileID with getFile and streams the file body. The
// caller closes it.
func (a *Adapter) OpenFile(ctx context.Context, fileID string) (io.ReadCloser, error) {
	file, err := a.api.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return nil, fmt.Errorf("telegram get file: %w", redact(err))
	}
	if file.FilePath == "" {
		return nil, fmt.Errorf("telegram get file: no path for %s", fileID)
	}

	link := fmt.Sprintf(a.fileEndpoint, a.api.Token, file.FilePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram download: %w", redact(err))
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("telegram download: %s", resp.Status)
	}
	return resp.Body, nil
}

func clientTimeout(pollSeconds int) time.Duration {
	return time.Duration(pollSeconds)*time.Second + requestSlack
}

// redact strips the request URL, which embeds the bot token, from
// transport errors.
func redact(err error) error {
	var uerr *neturl.Error
	if errors.As(err, &uerr) {
		return uerr.Err
	}
	return err
}

func refOf(m tgbotapi.Message) bot.MessageRef {
	ref := bot.MessageRef{MessageID: strconv.Itoa(m.MessageID)}
	if m.Chat != nil {
		ref.ChatID = strconv.FormatInt(m.Chat.ID, 10)
	}
	return ref
}

var _ bot.Messenger = (*Adapter)(nil)
