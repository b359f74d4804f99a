package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration values for the API service.
type Config struct {
	AppName                string
	AppEnv                 string
	AppPort                string
	DatabaseURL            string
	RedisURL               string
	NATSURL                string
	JWTSecret              string
	CloudinaryCloudName    string
	CloudinaryAPIKey       string
	CloudinaryAPISecret    string
	CloudinaryUploadFolder string
	SendgridAPIKey         string
	MailFromAddress        string
	MailFromName           string
	QuizCacheTTL           time.Duration
	SubmitRateLimit        int
	SubmitRateWindow       time.Duration
	NotificationChannel    string
	NotificationKeepAlive  time.Duration
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// IsProduction reports whether error responses must hide internals.
func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.AppEnv), "production")
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("GEMA")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "GEMA LMS API")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("cloudinary.folder", "gema/certificates")
	v.SetDefault("mail.from_address", "no-reply@gema.local")
	v.SetDefault("mail.from_name", "GEMA Learning")
	v.SetDefault("quiz.cache_ttl", "10m")
	v.SetDefault("quiz.submit_rate_limit", 10)
	v.SetDefault("quiz.submit_rate_window", "1m")
	v.SetDefault("notifications.channel", "gema:lms")
	v.SetDefault("notifications.keepalive", "30s")

	cacheTTL, err := parseDuration(v, "quiz.cache_ttl", 10*time.Minute)
	if err != nil {
		return Config{}, err
	}

	rateWindow, err := parseDuration(v, "quiz.submit_rate_window", time.Minute)
	if err != nil {
		return Config{}, err
	}

	keepAlive, err := parseDuration(v, "notifications.keepalive", 30*time.Second)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		AppName:                v.GetString("app.name"),
		AppEnv:                 v.GetString("app.env"),
		AppPort:                v.GetString("app.port"),
		DatabaseURL:            v.GetString("database.url"),
		RedisURL:               v.GetString("redis.url"),
		NATSURL:                v.GetString("nats.url"),
		JWTSecret:              v.GetString("jwt.secret"),
		CloudinaryCloudName:    v.GetString("cloudinary.cloud_name"),
		CloudinaryAPIKey:       v.GetString("cloudinary.api_key"),
		CloudinaryAPISecret:    v.GetString("cloudinary.api_secret"),
		CloudinaryUploadFolder: v.GetString("cloudinary.folder"),
		SendgridAPIKey:         v.GetString("sendgrid.api_key"),
		MailFromAddress:        v.GetString("mail.from_address"),
		MailFromName:           v.GetString("mail.from_name"),
		QuizCacheTTL:           cacheTTL,
		SubmitRateLimit:        v.GetInt("quiz.submit_rate_limit"),
		SubmitRateWindow:       rateWindow,
		NotificationChannel:    v.GetString("notifications.channel"),
		NotificationKeepAlive:  keepAlive,
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("jwt secret must be provided")
	}

	if cfg.SubmitRateLimit <= 0 {
		cfg.SubmitRateLimit = 10
	}

	return cfg, nil
}

// CloudinaryEnabled reports whether certificate documents can be uploaded.
func (c Config) CloudinaryEnabled() bool {
	return c.CloudinaryCloudName != "" && c.CloudinaryAPIKey != "" && c.CloudinaryAPISecret != ""
}

func parseDuration(v *viper.Viper, key string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(v.GetString(key))
	if raw == "" {
		return fallback, nil
	}

	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}

	return parsed, nil
}
