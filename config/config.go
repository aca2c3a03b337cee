// Package config gathers process settings from the environment, an optional
// .env file, an optional config.yaml and command-line flags, all through
// viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/zahareus/telegram-transcriber-bot/access"
)

// Viper keys. AutomaticEnv maps each to its upper-cased environment name.
const (
	KeyTransport        = "transport"
	KeyTelegramToken    = "telegram_bot_token"
	KeyDiscordToken     = "discord_token"
	KeyAdmin            = "admin_user_id"
	KeyAdminPreapproved = "admin_preapproved"
	KeySTTProvider      = "stt_provider"
	KeySTTModel         = "stt_model"
	KeyOpenAIKey        = "openai_api_key"
	KeyOpenAIBaseURL    = "openai_base_url"
	KeyGeminiKey        = "gemini_api_key"
	KeyLanguage         = "transcription_language"
	KeyMaxFileSize      = "max_file_size"
	KeySTTTimeout       = "stt_timeout"
	KeyDownloadTimeout  = "download_timeout"
	KeyStore            = "store"
	KeyDatabasePath     = "database_path"
	KeyDatabaseURL      = "database_url"
	KeyRedisURL         = "redis_url"
	KeyPort             = "port"
	KeyWorkers          = "workers"
	KeyLogLevel         = "log_level"
)

const (
	TransportTelegram = "telegram"
	TransportDiscord  = "discord"

	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"

	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

type Config struct {
	Transport     string
	TelegramToken string
	DiscordToken  string

	Admin            access.Identity
	AdminPreapproved bool

	STTProvider   string
	STTModel      string
	OpenAIKey     string
	OpenAIBaseURL string
	GeminiKey     string
	Language      string
	MaxFileSize   int64
	STTTimeout    time.Duration

	DownloadTimeout time.Duration

	Store        string
	DatabasePath string
	DatabaseURL  string
	RedisURL     string

	Port     int
	Workers  int
	LogLevel string

	adminErr error
}

func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyTransport, TransportTelegram)
	v.SetDefault(KeyAdminPreapproved, false)
	v.SetDefault(KeySTTProvider, ProviderOpenAI)
	v.SetDefault(KeyLanguage, "uk")
	v.SetDefault(KeyMaxFileSize, int64(25<<20))
	v.SetDefault(KeySTTTimeout, 120*time.Second)
	v.SetDefault(KeyDownloadTimeout, 2*time.Minute)
	v.SetDefault(KeyStore, StoreMemory)
	v.SetDefault(KeyDatabasePath, "./data/access.db")
	v.SetDefault(KeyPort, 8080)
	v.SetDefault(KeyWorkers, 8)
	v.SetDefault(KeyLogLevel, "info")
}

// LoadDotEnv reads KEY=value pairs into the environment without
// overriding variables that are already set. Missing files are skipped.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

func clean(v *viper.Viper, key string) string {
	return strings.TrimSpace(v.GetString(key))
}

// Load reads every setting from v. It never fails; problems surface from
// Validate.
func Load(v *viper.Viper) Config {
	c := Config{
		Transport:        strings.ToLower(clean(v, KeyTransport)),
		TelegramToken:    clean(v, KeyTelegramToken),
		DiscordToken:     clean(v, KeyDiscordToken),
		AdminPreapproved: v.GetBool(KeyAdminPreapproved),
		STTProvider:      strings.ToLower(clean(v, KeySTTProvider)),
		STTModel:         clean(v, KeySTTModel),
		OpenAIKey:        clean(v, KeyOpenAIKey),
		OpenAIBaseURL:    clean(v, KeyOpenAIBaseURL),
		GeminiKey:        clean(v, KeyGeminiKey),
		Language:         clean(v, KeyLanguage),
		MaxFileSize:      v.GetInt64(KeyMaxFileSize),
		STTTimeout:       v.GetDuration(KeySTTTimeout),
		DownloadTimeout:  v.GetDuration(KeyDownloadTimeout),
		Store:            strings.ToLower(clean(v, KeyStore)),
		DatabasePath:     clean(v, KeyDatabasePath),
		DatabaseURL:      clean(v, KeyDatabaseURL),
		RedisURL:         clean(v, KeyRedisURL),
		Port:             v.GetInt(KeyPort),
		Workers:          v.GetInt(KeyWorkers),
		LogLevel:         clean(v, KeyLogLevel),
	}

	if raw := clean(v, KeyAdmin); raw != "" {
		c.Admin, c.adminErr = access.ParseIdentity(raw)
	}
	return c
}

// Validate returns an error for settings the bot cannot start without and
// warnings for features that will be degraded.
func (c Config) Validate() (warnings []string, err error) {
	var errs []error

	switch c.Transport {
	case TransportTelegram:
		if c.TelegramToken == "" {
			errs = append(errs, errors.New("TELEGRAM_BOT_TOKEN is not set"))
		}
	case TransportDiscord:
		if c.DiscordToken == "" {
			errs = append(errs, errors.New("DISCORD_TOKEN is not set"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown transport %q", c.Transport))
	}

	if c.adminErr != nil {
		errs = append(errs, fmt.Errorf("ADMIN_USER_ID: %w", c.adminErr))
	} else if c.Admin == 0 {
		warnings = append(warnings, "ADMIN_USER_ID is not set; access requests cannot be approved")
	}

	switch c.STTProvider {
	case ProviderOpenAI:
		if c.OpenAIKey == "" {
			warnings = append(warnings, "OPENAI_API_KEY is not set; transcription is disabled")
		}
	case ProviderGemini:
		if c.GeminiKey == "" {
			warnings = append(warnings, "GEMINI_API_KEY is not set; transcription is disabled")
		}
	default:
		errs = append(errs, fmt.Errorf("unknown stt provider %q", c.STTProvider))
	}

	switch c.Store {
	case StoreMemory:
		warnings = append(warnings, "using the in-memory store; access decisions are lost on restart")
	case StoreSQLite:
		if c.DatabasePath == "" {
			errs = append(errs, errors.New("DATABASE_PATH is empty"))
		}
	case StorePostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres store"))
		}
	case StoreRedis:
		if c.RedisURL == "" {
			errs = append(errs, errors.New("REDIS_URL is required for the redis store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store %q", c.Store))
	}

	if c.MaxFileSize <= 0 {
		errs = append(errs, fmt.Errorf("MAX_FILE_SIZE must be positive, got %d", c.MaxFileSize))
	}
	if c.STTTimeout <= 0 {
		errs = append(errs, fmt.Errorf("STT_TIMEOUT must be positive, got %s", c.STTTimeout))
	}
	if c.DownloadTimeout <= 0 {
		errs = append(errs, fmt.Errorf("DOWNLOAD_TIMEOUT must be positive, got %s", c.DownloadTimeout))
	}
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("WORKERS must be at least 1, got %d", c.Workers))
	}
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT out of range: %d", c.Port))
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("LOG_LEVEL: %w", err))
	}

	return warnings, errors.Join(errs...)
}

// Level is the parsed LogLevel, falling back to info.
func (c Config) Level() log.Level {
	lvl, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return log.InfoLevel
	}
	return lvl
}
