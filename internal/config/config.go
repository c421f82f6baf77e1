// Package config centralises configuration parsing for the webhook relay.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/linhptit/strava-webhook-vercel/internal/redact"
)

// Credential store backends understood by Load.
const (
	StoreRedis    = "redis"
	StorePostgres = "postgres"
	StoreStatic   = "static"
)

// DefaultMarker is the description suffix stripped when an activity is edited.
const DefaultMarker = "Powered by https://strautomator.com"

// Config captures runtime configuration values for the relay. It is built once at
// startup and passed by value to the components that need it.
type Config struct {
	Environment    string
	HTTPAddress    string
	MetricsAddress string

	VerifyToken  redact.Secret
	ClientID     string
	ClientSecret redact.Secret
	OAuthURL     string
	APIURL       string
	RedirectURI  string
	StateSecret  redact.Secret
	HTTPTimeout  time.Duration

	CredentialStore string
	RedisURL        string
	RedisToken      redact.Secret
	PostgresURL     string
	RefreshToken    redact.Secret // single-user mode only
	AthleteID       string        // single-user mode only

	Marker     string
	QuotesFile string

	KafkaBrokers    []string
	KafkaTopic      string
	ConsumerGroupID string
}

// Load reads a local .env file when present, then environment variables, and validates
// the settings the webhook relay needs.
func Load() (Config, error) {
	cfg := read()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConsumer reads the same sources as Load but only requires the settings of the
// audit consumer.
func LoadConsumer() (Config, error) {
	cfg := read()
	if len(cfg.KafkaBrokers) == 0 {
		return Config{}, errors.New("missing required configuration: KAFKA_BROKERS")
	}
	if strings.TrimSpace(cfg.KafkaTopic) == "" {
		return Config{}, errors.New("KAFKA_TOPIC must not be blank")
	}
	return cfg, nil
}

func read() Config {
	_ = godotenv.Load()

	cfg := Config{
		Environment:     getEnv("APP_ENV", "production"),
		HTTPAddress:     ":" + getEnv("PORT", "3000"),
		MetricsAddress:  getEnv("METRICS_ADDRESS", ":9195"),
		VerifyToken:     redact.Secret(os.Getenv("STRAVA_VERIFY_TOKEN")),
		ClientID:        strings.TrimSpace(os.Getenv("STRAVA_CLIENT_ID")),
		ClientSecret:    redact.Secret(os.Getenv("STRAVA_CLIENT_SECRET")),
		OAuthURL:        strings.TrimRight(getEnv("STRAVA_OAUTH_URL", "https://www.strava.com/oauth"), "/"),
		APIURL:          strings.TrimRight(getEnv("STRAVA_API_URL", "https://www.strava.com/api/v3"), "/"),
		RedirectURI:     os.Getenv("STRAVA_REDIRECT_URI"),
		StateSecret:     redact.Secret(os.Getenv("OAUTH_STATE_SECRET")),
		HTTPTimeout:     getDurationEnv("HTTP_TIMEOUT", 10*time.Second),
		CredentialStore: strings.ToLower(getEnv("CREDENTIAL_STORE", StoreRedis)),
		RedisURL:        os.Getenv("REDIS_URL"),
		RedisToken:      redact.Secret(os.Getenv("REDIS_TOKEN")),
		PostgresURL:     os.Getenv("POSTGRES_URL"),
		RefreshToken:    redact.Secret(os.Getenv("STRAVA_REFRESH_TOKEN")),
		AthleteID:       strings.TrimSpace(os.Getenv("STRAVA_ATHLETE_ID")),
		Marker:          getEnv("ENRICH_MARKER", DefaultMarker),
		QuotesFile:      os.Getenv("QUOTES_FILE"),
		KafkaBrokers:    splitAndTrim(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:      getEnv("KAFKA_TOPIC", "activity_mutations"),
		ConsumerGroupID: getEnv("CONSUMER_GROUP_ID", "activity-mutation-auditor"),
	}
	if cfg.StateSecret.Empty() {
		cfg.StateSecret = cfg.ClientSecret
	}
	return cfg
}

// Validate reports missing or inconsistent settings.
func (c Config) Validate() error {
	var missing []string
	if c.VerifyToken.Empty() {
		missing = append(missing, "STRAVA_VERIFY_TOKEN")
	}
	if c.ClientID == "" {
		missing = append(missing, "STRAVA_CLIENT_ID")
	}
	if c.ClientSecret.Empty() {
		missing = append(missing, "STRAVA_CLIENT_SECRET")
	}

	switch c.CredentialStore {
	case StoreRedis:
		if strings.TrimSpace(c.RedisURL) == "" {
			missing = append(missing, "REDIS_URL")
		}
	case StorePostgres:
		if strings.TrimSpace(c.PostgresURL) == "" {
			missing = append(missing, "POSTGRES_URL")
		}
	case StoreStatic:
		if c.RefreshToken.Empty() {
			missing = append(missing, "STRAVA_REFRESH_TOKEN")
		}
	default:
		return fmt.Errorf("CREDENTIAL_STORE must be one of %s, %s, %s: got %q", StoreRedis, StorePostgres, StoreStatic, c.CredentialStore)
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	if strings.TrimSpace(c.Marker) == "" {
		return errors.New("ENRICH_MARKER must not be blank")
	}
	return nil
}

// Development reports whether verbose, human-readable logging should be used.
func (c Config) Development() bool {
	return c.Environment == "development"
}

// PublishEnabled reports whether mutation events should be written to Kafka.
func (c Config) PublishEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func splitAndTrim(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getDurationEnv(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}
