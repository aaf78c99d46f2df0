package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPPort        int
	DBPath          string
	LogLevel        slog.Level
	LogFormat       string
	MaxRequestBytes int64
	TemplatesDir    string

	AuthSecret    string
	AuthRequired  bool
	AdminEmail    string
	AdminPassword string

	Transport              string
	SMTPHost               string
	SMTPPort               int
	SMTPSecurity           string
	SMTPTimeout            time.Duration
	SMTPInsecureSkipVerify bool
	ResendBaseURL          string

	SendDelayMs    int
	SendJitterMs   int
	BatchPause     time.Duration
	SenderVariants []string

	CaptureEnabled  bool
	CapturePort     int
	CaptureUsername string
	CapturePassword string
}

func Load() Config {
	return Config{
		HTTPPort:        getEnvInt("HTTP_PORT", 3000),
		DBPath:          getEnvString("DB_PATH", ""),
		LogLevel:        getEnvLevel("LOG_LEVEL", slog.LevelInfo),
		LogFormat:       strings.ToLower(getEnvString("LOG_FORMAT", "text")),
		MaxRequestBytes: int64(getEnvInt("MAX_REQUEST_BYTES", 64<<20)),
		TemplatesDir:    getEnvString("TEMPLATES_DIR", "templates"),

		AuthSecret:    getEnvString("AUTH_SECRET", ""),
		AuthRequired:  getEnvBool("AUTH_REQUIRED", true),
		AdminEmail:    getEnvString("ADMIN_EMAIL", ""),
		AdminPassword: getEnvString("ADMIN_PASSWORD", ""),

		Transport:              strings.ToLower(getEnvString("TRANSPORT", "smtp")),
		SMTPHost:               getEnvString("SMTP_HOST", "smtp.gmail.com"),
		SMTPPort:               getEnvInt("SMTP_PORT", 587),
		SMTPSecurity:           strings.ToLower(getEnvString("SMTP_SECURITY", "starttls")),
		SMTPTimeout:            getEnvDuration("SMTP_TIMEOUT", 30*time.Second),
		SMTPInsecureSkipVerify: getEnvBool("SMTP_INSECURE_SKIP_VERIFY", false),
		ResendBaseURL:          getEnvString("RESEND_BASE_URL", ""),

		SendDelayMs:    getEnvInt("SEND_DELAY_MS", 2000),
		SendJitterMs:   getEnvInt("SEND_JITTER_MS", 250),
		BatchPause:     time.Duration(getEnvInt("BATCH_PAUSE_MS", 200)) * time.Millisecond,
		SenderVariants: getEnvList("SENDER_VARIANTS"),

		CaptureEnabled:  getEnvBool("CAPTURE_SMTP_ENABLED", false),
		CapturePort:     getEnvInt("CAPTURE_SMTP_PORT", 2025),
		CaptureUsername: getEnvString("CAPTURE_SMTP_USERNAME", ""),
		CapturePassword: getEnvString("CAPTURE_SMTP_PASSWORD", "batchmail"),
	}
}

func getEnvString(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.Atoi(strings.TrimSpace(value))
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.ParseBool(strings.TrimSpace(value))
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := time.ParseDuration(strings.TrimSpace(value))
		if err == nil && parsed > 0 {
			return parsed
		}
	}
	return fallback
}

func getEnvLevel(key string, fallback slog.Level) slog.Level {
	if value, ok := os.LookupEnv(key); ok {
		var level slog.Level
		if err := level.UnmarshalText([]byte(strings.TrimSpace(value))); err == nil {
			return level
		}
	}
	return fallback
}

func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(getEnvString(key, ""), ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
