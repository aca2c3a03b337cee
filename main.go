package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zahareus/telegram-transcriber-bot/config"
)

var logger *log.Logger

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(usersCmd)
	rootCmd.AddCommand(migrateCmd)

	flags := rootCmd.PersistentFlags()
	flags.String("transport", "", "Chat transport: telegram or discord")
	flags.String("telegram-token", "", "Telegram bot token")
	flags.String("discord-token", "", "Discord bot token")
	flags.String("admin", "", "Numeric user id of the admin")
	flags.Bool("admin-preapproved", false, "Let the admin transcribe without a request")
	flags.String("stt-provider", "", "Speech-to-text provider: openai or gemini")
	flags.String("openai-api-key", "", "OpenAI API key")
	flags.String("gemini-api-key", "", "Gemini API key")
	flags.String("language", "", "Transcription language hint")
	flags.String("store", "", "Access store: memory, sqlite, postgres or redis")
	flags.String("database-path", "", "SQLite database file")
	flags.String("database-url", "", "Postgres connection URL")
	flags.String("redis-url", "", "Redis connection URL")
	flags.Int("port", 0, "Health endpoint port")
	flags.Int("workers", 0, "Updates handled concurrently")
	flags.String("log-level", "", "debug, info, warn or error")

	bindings := map[string]string{
		config.KeyTransport:        "transport",
		config.KeyTelegramToken:    "telegram-token",
		config.KeyDiscordToken:     "discord-token",
		config.KeyAdmin:            "admin",
		config.KeyAdminPreapproved: "admin-preapproved",
		config.KeySTTProvider:      "stt-provider",
		config.KeyOpenAIKey:        "openai-api-key",
		config.KeyGeminiKey:        "gemini-api-key",
		config.KeyLanguage:         "language",
		config.KeyStore:            "store",
		config.KeyDatabasePath:     "database-path",
		config.KeyDatabaseURL:      "database-url",
		config.KeyRedisURL:         "redis-url",
		config.KeyPort:             "port",
		config.KeyWorkers:          "workers",
		config.KeyLogLevel:         "log-level",
	}
	for key, flag := range bindings {
		viper.BindPFlag(key, flags.Lookup(flag))
	}
}

func initConfig() {
	logger = log.New(os.Stderr)

	if err := config.LoadDotEnv(); err != nil {
		logger.Warn("dotenv", "error", err)
	}

	config.SetDefaults(viper.GetViper())
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			logger.Warn("config file", "error", err)
		}
	}
}

var rootCmd = &cobra.Command{
	Use:   "transcriber-bot",
	Short: "An access-gated chat bot that transcribes voice messages",
	Long: `transcriber-bot relays voice messages and audio files to a
speech-to-text service. Users ask for access with /start; the admin approves
or rejects them with a button.`,
}

// loadConfig validates the merged settings and exits on anything fatal.
func loadConfig(l *log.Logger) config.Config {
	cfg := config.Load(viper.GetViper())
	warnings, err := cfg.Validate()
	for _, w := range warnings {
		l.Warn(w)
	}
	if err != nil {
		l.Fatal("invalid configuration", "error", err)
	}
	return cfg
}

type loggers struct {
	main *log.Logger
	chat *log.Logger
	hear *log.Logger
	data *log.Logger
	www  *log.Logger
}

// createLoggers configures the root logger and derives one prefixed logger
// per subsystem.
func createLoggers(level log.Level) loggers {
	logger.SetLevel(level)
	logger.SetReportTimestamp(true)
	logger.SetReportCaller(level == log.DebugLevel)
	logger.SetCallerFormatter(func(file string, line int, _ string) string {
		if rel, err := filepath.Rel(".", file); err == nil {
			file = rel
		}
		return fmt.Sprintf("%s:%d", file, line)
	})

	styles := log.DefaultStyles()
	styles.Prefix = styles.Prefix.Bold(false).
		Width(5).
		Transform(func(s string) string { return strings.TrimSuffix(s, ":") })
	for _, lvl := range []log.Level{log.InfoLevel, log.WarnLevel, log.ErrorLevel} {
		styles.Levels[lvl] = styles.Levels[lvl].MaxWidth(4).Bold(false)
	}
	styles.Message = styles.Message.Bold(true).Width(20)
	styles.Key = styles.Key.Foreground(lipgloss.Color("#ff8800"))
	logger.SetStyles(styles)

	return loggers{
		main: logger.WithPrefix("main"),
		chat: logger.WithPrefix("chat"),
		hear: logger.WithPrefix("hear"),
		data: logger.WithPrefix("data"),
		www:  logger.WithPrefix("www"),
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
