package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/zahareus/telegram-transcriber-bot/bot"
	"github.com/zahareus/telegram-transcriber-bot/config"
	"github.com/zahareus/telegram-transcriber-bot/discord"
	"github.com/zahareus/telegram-transcriber-bot/stt"
	"github.com/zahareus/telegram-transcriber-bot/telegram"
	"github.com/zahareus/telegram-transcriber-bot/www"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bot and its health endpoint",
	RunE:  runServe,
}

// transport is a chat connection: the outbound Messenger plus the loop
// that feeds inbound events.
type transport interface {
	bot.Messenger
	Run(ctx context.Context, handle func(context.Context, bot.Event)) error
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig(logger)
	l := createLoggers(cfg.Level())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg, l.data)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer closeStore()

	transcriber, closeSTT, err := newTranscriber(ctx, cfg, l.hear)
	if err != nil {
		return fmt.Errorf("speech-to-text: %w", err)
	}
	defer closeSTT()

	chat, err := newTransport(cfg, l.chat)
	if err != nil {
		return err
	}

	b := bot.New(bot.Config{
		Admin:            cfg.Admin,
		AdminPreapproved: cfg.AdminPreapproved,
		Language:         cfg.Language,
		MaxFileSize:      cfg.MaxFileSize,
		DownloadTimeout:  cfg.DownloadTimeout,
	}, store, chat, transcriber, l.chat)

	l.main.Info(
		"starting",
		"transport", cfg.Transport,
		"stt", cfg.STTProvider,
		"store", cfg.Store,
		"admin", cfg.Admin,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return www.Serve(gctx, cfg.Port, l.www)
	})
	g.Go(func() error {
		return chat.Run(gctx, b.HandleEvent)
	})

	err = g.Wait()
	b.Wait()
	if err != nil {
		return err
	}
	l.main.Info("stopped")
	return nil
}

func newTransport(cfg config.Config, l *log.Logger) (transport, error) {
	switch cfg.Transport {
	case config.TransportDiscord:
		return discord.New(cfg.DiscordToken, cfg.Workers, l)
	default:
		return telegram.New(cfg.TelegramToken, l, telegram.WithWorkers(cfg.Workers))
	}
}

// newTranscriber builds the configured provider. A missing key yields a
// stand-in that fails every request, so the bot still answers users.
func newTranscriber(ctx context.Context, cfg config.Config, l *log.Logger) (stt.Transcriber, func(), error) {
	noop := func() {}

	switch cfg.STTProvider {
	case config.ProviderGemini:
		if cfg.GeminiKey == "" {
			return stt.Unavailable{Provider: stt.GeminiProvider}, noop, nil
		}
		g, err := stt.NewGemini(ctx, cfg.GeminiKey, cfg.STTModel, cfg.STTTimeout, l)
		if err != nil {
			return nil, nil, err
		}
		return g, func() {
			if err := g.Close(); err != nil {
				l.Warn("close gemini client", "error", err)
			}
		}, nil

	default:
		if cfg.OpenAIKey == "" {
			return stt.Unavailable{Provider: stt.OpenAIProvider}, noop, nil
		}
		opts := []stt.OpenAIOption{stt.WithTimeout(cfg.STTTimeout)}
		if cfg.STTModel != "" {
			opts = append(opts, stt.WithModel(cfg.STTModel))
		}
		if cfg.OpenAIBaseURL != "" {
			opts = append(opts, stt.WithBaseURL(cfg.OpenAIBaseURL))
		}
		return stt.NewOpenAIWhisper(cfg.OpenAIKey, l, opts...), noop, nil
	}
}
