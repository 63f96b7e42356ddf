package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	internalconfig "github.com/foxseedlab/voicecal/internal/config"
)

const dotEnvFile = ".env"

type envConfig struct {
	Env             string `env:"ENV" envDefault:"production"`
	HTTPAddr        string `env:"HTTP_ADDR" envDefault:":8080"`
	DefaultTimezone string `env:"DEFAULT_TIMEZONE" envDefault:"UTC"`
	DefaultLanguage string `env:"DEFAULT_LANGUAGE" envDefault:"en-US"`

	SchedulingBufferMinutes      int   `env:"SCHEDULING_BUFFER_MINUTES" envDefault:"15"`
	SchedulingStepMinutes        int   `env:"SCHEDULING_STEP_MINUTES" envDefault:"15"`
	SchedulingDayStartHour       int   `env:"SCHEDULING_DAY_START_HOUR" envDefault:"9"`
	SchedulingDayEndHour         int   `env:"SCHEDULING_DAY_END_HOUR" envDefault:"24"`
	SchedulingCommonHours        []int `env:"SCHEDULING_COMMON_HOURS" envDefault:"10,14,16" envSeparator:","`
	SchedulingSuggestionCount    int   `env:"SCHEDULING_SUGGESTION_COUNT" envDefault:"3"`
	SchedulingDefaultDurationMin int   `env:"SCHEDULING_DEFAULT_DURATION_MIN" envDefault:"60"`

	SessionIdleTimeout   time.Duration `env:"SESSION_IDLE_TIMEOUT" envDefault:"3m"`
	SessionSweepInterval time.Duration `env:"SESSION_SWEEP_INTERVAL" envDefault:"30s"`
	SessionQueueSize     int           `env:"SESSION_QUEUE_SIZE" envDefault:"16"`

	CalendarSource          string `env:"CALENDAR_SOURCE" envDefault:"google"`
	GoogleCalendarID        string `env:"GOOGLE_CALENDAR_ID" envDefault:"primary"`
	GoogleCalendarTokenFile string `env:"GOOGLE_CALENDAR_TOKEN_FILE"`
	GoogleClientID          string `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret      string `env:"GOOGLE_CLIENT_SECRET"`
	ICSURL                  string `env:"ICS_URL"`

	GoogleCloudProjectID       string `env:"GOOGLE_CLOUD_PROJECT_ID"`
	GoogleCloudCredentialsJSON string `env:"GOOGLE_CLOUD_CREDENTIALS_JSON"`
	GoogleCloudSpeechLocation  string `env:"GOOGLE_CLOUD_SPEECH_LOCATION" envDefault:"global"`
	GoogleCloudSpeechModel     string `env:"GOOGLE_CLOUD_SPEECH_MODEL" envDefault:"long"`

	GeminiAPIKey string `env:"GEMINI_API_KEY,required"`
	GeminiModel  string `env:"GEMINI_MODEL" envDefault:"gemini-2.5-flash"`

	DatabaseURL       string `env:"DATABASE_URL"`
	BookingWebhookURL string `env:"BOOKING_WEBHOOK_URL"`

	DiscordEnabled bool   `env:"DISCORD_ENABLED" envDefault:"false"`
	DiscordToken   string `env:"DISCORD_TOKEN"`
	DiscordGuildID string `env:"DISCORD_GUILD_ID"`

	LiveMaxUtterancesPerSec float64 `env:"LIVE_MAX_UTTERANCES_PER_SEC" envDefault:"2"`
}

// Load reads an optional .env file, then the process environment. Variables
// already set in the environment win over the file.
func Load() (*internalconfig.Config, error) {
	if err := loadDotEnv(dotEnvFile); err != nil {
		return nil, err
	}
	var raw envConfig
	if err := env.Parse(&raw); err != nil {
		return nil, fmt.Errorf("environment variables are invalid or missing: %w", err)
	}
	cfg := raw.toConfig()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	slog.Info("loaded environment file", "path", path)
	return nil
}

func (raw envConfig) toConfig() *internalconfig.Config {
	return &internalconfig.Config{
		Env:                          raw.Env,
		HTTPAddr:                     raw.HTTPAddr,
		DefaultTimezone:              raw.DefaultTimezone,
		DefaultLanguage:              raw.DefaultLanguage,
		SchedulingBufferMinutes:      raw.SchedulingBufferMinutes,
		SchedulingStepMinutes:        raw.SchedulingStepMinutes,
		SchedulingDayStartHour:       raw.SchedulingDayStartHour,
		SchedulingDayEndHour:         raw.SchedulingDayEndHour,
		SchedulingCommonHours:        raw.SchedulingCommonHours,
		SchedulingSuggestionCount:    raw.SchedulingSuggestionCount,
		SchedulingDefaultDurationMin: raw.SchedulingDefaultDurationMin,
		SessionIdleTimeout:           raw.SessionIdleTimeout,
		SessionSweepInterval:         raw.SessionSweepInterval,
		SessionQueueSize:             raw.SessionQueueSize,
		CalendarSource:               raw.CalendarSource,
		GoogleCalendarID:             raw.GoogleCalendarID,
		GoogleCalendarTokenFile:      raw.GoogleCalendarTokenFile,
		GoogleClientID:               raw.GoogleClientID,
		GoogleClientSecret:           raw.GoogleClientSecret,
		ICSURL:                       raw.ICSURL,
		GoogleCloudProjectID:         raw.GoogleCloudProjectID,
		GoogleCloudCredentialsJSON:   raw.GoogleCloudCredentialsJSON,
		GoogleCloudSpeechLocation:    raw.GoogleCloudSpeechLocation,
		GoogleCloudSpeechModel:       raw.GoogleCloudSpeechModel,
		GeminiAPIKey:                 raw.GeminiAPIKey,
		GeminiModel:                  raw.GeminiModel,
		DatabaseURL:                  raw.DatabaseURL,
		BookingWebhookURL:            raw.BookingWebhookURL,
		DiscordEnabled:               raw.DiscordEnabled,
		DiscordToken:                 raw.DiscordToken,
		DiscordGuildID:               raw.DiscordGuildID,
		LiveMaxUtterancesPerSec:      raw.LiveMaxUtterancesPerSec,
	}
}
