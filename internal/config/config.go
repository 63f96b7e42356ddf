package config

import (
	"fmt"
	"time"
)

const (
	CalendarSourceGoogle = "google"
	CalendarSourceICS    = "ics"
)

type Config struct {
	Env             string
	HTTPAddr        string
	DefaultTimezone string
	DefaultLanguage string

	SchedulingBufferMinutes      int
	SchedulingStepMinutes        int
	SchedulingDayStartHour       int
	SchedulingDayEndHour         int
	SchedulingCommonHours        []int
	SchedulingSuggestionCount    int
	SchedulingDefaultDurationMin int

	SessionIdleTimeout   time.Duration
	SessionSweepInterval time.Duration
	SessionQueueSize     int

	CalendarSource          string
	GoogleCalendarID        string
	GoogleCalendarTokenFile string
	GoogleClientID          string
	GoogleClientSecret      string
	ICSURL                  string

	GoogleCloudProjectID       string
	GoogleCloudCredentialsJSON string
	GoogleCloudSpeechLocation  string
	GoogleCloudSpeechModel     string

	GeminiAPIKey string
	GeminiModel  string

	DatabaseURL       string
	BookingWebhookURL string

	DiscordEnabled bool
	DiscordToken   string
	DiscordGuildID string

	LiveMaxUtterancesPerSec float64
}

func (c *Config) Validate() error {
	for _, req := range c.requiredFieldChecks() {
		if req.value == "" {
			return fmt.Errorf("%s is required", req.name)
		}
	}
	if _, err := time.LoadLocation(c.DefaultTimezone); err != nil {
		return fmt.Errorf("DEFAULT_TIMEZONE is invalid: %w", err)
	}
	switch c.CalendarSource {
	case CalendarSourceGoogle:
	case CalendarSourceICS:
		if c.ICSURL == "" {
			return fmt.Errorf("ICS_URL is required when CALENDAR_SOURCE=%s", CalendarSourceICS)
		}
	default:
		return fmt.Errorf("CALENDAR_SOURCE must be %q or %q, got %q", CalendarSourceGoogle, CalendarSourceICS, c.CalendarSource)
	}
	if c.GoogleCalendarTokenFile == "" && c.GoogleCloudCredentialsJSON == "" {
		return fmt.Errorf("GOOGLE_CALENDAR_TOKEN_FILE or GOOGLE_CLOUD_CREDENTIALS_JSON is required for calendar access")
	}
	if c.GoogleCalendarTokenFile != "" && (c.GoogleClientID == "" || c.GoogleClientSecret == "") {
		return fmt.Errorf("GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET are required with GOOGLE_CALENDAR_TOKEN_FILE")
	}
	if c.SchedulingBufferMinutes < 0 {
		return fmt.Errorf("SCHEDULING_BUFFER_MINUTES must not be negative, got %d", c.SchedulingBufferMinutes)
	}
	if c.SchedulingStepMinutes <= 0 {
		return fmt.Errorf("SCHEDULING_STEP_MINUTES must be positive, got %d", c.SchedulingStepMinutes)
	}
	if c.SchedulingDayStartHour < 0 || c.SchedulingDayStartHour > 23 {
		return fmt.Errorf("SCHEDULING_DAY_START_HOUR must be within 0-23, got %d", c.SchedulingDayStartHour)
	}
	if c.SchedulingDayEndHour <= c.SchedulingDayStartHour || c.SchedulingDayEndHour > 24 {
		return fmt.Errorf("SCHEDULING_DAY_END_HOUR must be after the day start and at most 24, got %d", c.SchedulingDayEndHour)
	}
	for _, h := range c.SchedulingCommonHours {
		if h < 0 || h > 23 {
			return fmt.Errorf("SCHEDULING_COMMON_HOURS must be within 0-23, got %d", h)
		}
	}
	if c.SchedulingSuggestionCount <= 0 || c.SchedulingSuggestionCount > 5 {
		return fmt.Errorf("SCHEDULING_SUGGESTION_COUNT must be within 1-5, got %d", c.SchedulingSuggestionCount)
	}
	if c.SchedulingDefaultDurationMin <= 0 {
		return fmt.Errorf("SCHEDULING_DEFAULT_DURATION_MIN must be positive, got %d", c.SchedulingDefaultDurationMin)
	}
	if c.SessionIdleTimeout <= 0 {
		return fmt.Errorf("SESSION_IDLE_TIMEOUT must be positive, got %s", c.SessionIdleTimeout)
	}
	if c.SessionSweepInterval < time.Second {
		return fmt.Errorf("SESSION_SWEEP_INTERVAL must be at least 1s, got %s", c.SessionSweepInterval)
	}
	if c.SessionQueueSize <= 0 {
		return fmt.Errorf("SESSION_QUEUE_SIZE must be positive, got %d", c.SessionQueueSize)
	}
	if c.LiveMaxUtterancesPerSec <= 0 {
		return fmt.Errorf("LIVE_MAX_UTTERANCES_PER_SEC must be positive, got %v", c.LiveMaxUtterancesPerSec)
	}
	if c.DiscordEnabled {
		if c.DiscordToken == "" || c.DiscordGuildID == "" {
			return fmt.Errorf("DISCORD_TOKEN and DISCORD_GUILD_ID are required when DISCORD_ENABLED=true")
		}
		if !c.SpeechEnabled() {
			return fmt.Errorf("GOOGLE_CLOUD_PROJECT_ID and GOOGLE_CLOUD_CREDENTIALS_JSON are required when DISCORD_ENABLED=true")
		}
	}
	if c.HTTPAddr == "" && !c.DiscordEnabled {
		return fmt.Errorf("no transport enabled: set HTTP_ADDR or DISCORD_ENABLED=true")
	}
	return nil
}

type requiredEnvField struct {
	name  string
	value string
}

func (c *Config) requiredFieldChecks() []requiredEnvField {
	return []requiredEnvField{
		{name: "DEFAULT_TIMEZONE", value: c.DefaultTimezone},
		{name: "DEFAULT_LANGUAGE", value: c.DefaultLanguage},
		{name: "GOOGLE_CALENDAR_ID", value: c.GoogleCalendarID},
		{name: "GEMINI_API_KEY", value: c.GeminiAPIKey},
		{name: "GEMINI_MODEL", value: c.GeminiModel},
	}
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// SpeechEnabled reports whether Cloud Speech is configured.
func (c *Config) SpeechEnabled() bool {
	return c.GoogleCloudProjectID != "" && c.GoogleCloudCredentialsJSON != ""
}
