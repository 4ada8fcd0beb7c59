package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all server configuration
type Config struct {
	Port           int
	OpenAIAPIKey   string
	UpstreamHost   string // host of the realtime API, without scheme
	Model          string
	Voice          string
	Instructions   string // optional system-prompt override
	Temperature    float64
	RedisURL       string
	RedisPassword  string
	MaxSessions    int
	SessionTimeout time.Duration
	AllowedOrigins []string
	MaxBufferSize  int // maximum pre-ready audio buffer size in bytes per session

	// Transcription settings forwarded to the upstream session
	TranscriptionModel string
	Language           string

	// Server-side VAD tuning. VADSilence is the interval of silence after
	// which the upstream finalizes the user's turn. Keep it generous for
	// telephony use: callers pause to think, and a short value reads as a
	// dropped call.
	VADThreshold     float64
	VADPrefixPadding time.Duration
	VADSilence       time.Duration

	// SettleDelay is the pause between writing conversation items and
	// triggering generation, so prior upstream writes apply first.
	SettleDelay time.Duration

	ToolsEnabled bool
}

// Load reads configuration from environment variables with defaults
func Load() (*Config, error) {
	// Load .env file if it exists (doesn't error if missing)
	_ = godotenv.Load()

	config := &Config{
		Port:               8080,
		UpstreamHost:       "api.openai.com",
		Model:              "gpt-4o-realtime-preview-2024-12-17",
		Voice:              "alloy",
		Temperature:        0.8,
		RedisURL:           "localhost:6379",
		MaxSessions:        100,
		SessionTimeout:     30 * time.Minute,
		AllowedOrigins:     []string{"*"},
		MaxBufferSize:      5 * 1024 * 1024, // 5MB default
		TranscriptionModel: "whisper-1",
		Language:           "en",
		VADThreshold:       0.5,
		VADPrefixPadding:   300 * time.Millisecond,
		VADSilence:         2 * time.Second,
		SettleDelay:        250 * time.Millisecond,
		ToolsEnabled:       true,
	}

	// Required: OPENAI_API_KEY
	config.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	if config.OpenAIAPIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY environment variable is required")
	}

	// Optional: PORT
	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT: %w", err)
		}
		config.Port = p
	}

	// Optional: UPSTREAM_HOST
	if host := os.Getenv("UPSTREAM_HOST"); host != "" {
		config.UpstreamHost = host
	}

	// Optional: REALTIME_MODEL
	if model := os.Getenv("REALTIME_MODEL"); model != "" {
		config.Model = model
	}

	// Optional: VOICE
	if voice := os.Getenv("VOICE"); voice != "" {
		config.Voice = voice
	}

	// Optional: INSTRUCTIONS (overrides the built-in system prompt)
	if instructions := os.Getenv("INSTRUCTIONS"); instructions != "" {
		config.Instructions = instructions
	}

	// Optional: TEMPERATURE
	if temp := os.Getenv("TEMPERATURE"); temp != "" {
		t, err := strconv.ParseFloat(temp, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid TEMPERATURE: %w", err)
		}
		config.Temperature = t
	}

	// Optional: REDIS_URL
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		config.RedisURL = redisURL
	}

	// Optional: REDIS_PASSWORD
	if redisPassword := os.Getenv("REDIS_PASSWORD"); redisPassword != "" {
		config.RedisPassword = redisPassword
	}

	// Optional: MAX_SESSIONS
	if maxSessions := os.Getenv("MAX_SESSIONS"); maxSessions != "" {
		m, err := strconv.Atoi(maxSessions)
		if err != nil {
			return nil, fmt.Errorf("invalid MAX_SESSIONS: %w", err)
		}
		config.MaxSessions = m
	}

	// Optional: SESSION_TIMEOUT (in minutes)
	if timeout := os.Getenv("SESSION_TIMEOUT"); timeout != "" {
		t, err := strconv.Atoi(timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid SESSION_TIMEOUT: %w", err)
		}
		config.SessionTimeout = time.Duration(t) * time.Minute
	}

	// Optional: ALLOWED_ORIGINS (comma-separated)
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		config.AllowedOrigins = strings.Split(origins, ",")
	}

	// Optional: MAX_BUFFER_SIZE (in bytes)
	if bufferSize := os.Getenv("MAX_BUFFER_SIZE"); bufferSize != "" {
		b, err := strconv.Atoi(bufferSize)
		if err != nil {
			return nil, fmt.Errorf("invalid MAX_BUFFER_SIZE: %w", err)
		}
		config.MaxBufferSize = b
	}

	// Optional: TRANSCRIPTION_MODEL
	if model := os.Getenv("TRANSCRIPTION_MODEL"); model != "" {
		config.TranscriptionModel = model
	}

	// Optional: LANGUAGE (ISO-639-1 transcription language)
	if lang := os.Getenv("LANGUAGE"); lang != "" {
		config.Language = lang
	}

	// Optional: VAD_THRESHOLD (0.0 - 1.0)
	if threshold := os.Getenv("VAD_THRESHOLD"); threshold != "" {
		v, err := strconv.ParseFloat(threshold, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid VAD_THRESHOLD: %w", err)
		}
		if v < 0 || v > 1 {
			return nil, fmt.Errorf("invalid VAD_THRESHOLD: must be between 0 and 1")
		}
		config.VADThreshold = v
	}

	// Optional: VAD_PREFIX_PADDING_MS
	if padding := os.Getenv("VAD_PREFIX_PADDING_MS"); padding != "" {
		p, err := strconv.Atoi(padding)
		if err != nil {
			return nil, fmt.Errorf("invalid VAD_PREFIX_PADDING_MS: %w", err)
		}
		config.VADPrefixPadding = time.Duration(p) * time.Millisecond
	}

	// Optional: VAD_SILENCE_MS
	if silence := os.Getenv("VAD_SILENCE_MS"); silence != "" {
		s, err := strconv.Atoi(silence)
		if err != nil {
			return nil, fmt.Errorf("invalid VAD_SILENCE_MS: %w", err)
		}
		config.VADSilence = time.Duration(s) * time.Millisecond
	}

	// Optional: SETTLE_DELAY_MS
	if settle := os.Getenv("SETTLE_DELAY_MS"); settle != "" {
		s, err := strconv.Atoi(settle)
		if err != nil {
			return nil, fmt.Errorf("invalid SETTLE_DELAY_MS: %w", err)
		}
		config.SettleDelay = time.Duration(s) * time.Millisecond
	}

	// Optional: TOOLS_ENABLED ("true"/"false")
	if tools := os.Getenv("TOOLS_ENABLED"); tools != "" {
		enabled, err := strconv.ParseBool(tools)
		if err != nil {
			return nil, fmt.Errorf("invalid TOOLS_ENABLED: %w", err)
		}
		config.ToolsEnabled = enabled
	}

	return config, nil
}
