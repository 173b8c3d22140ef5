// Package config collects every setting of the service into one explicit struct.
// Values are read once at startup and injected into each component.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"meeting-insights-go/internal/failure"
)

const (
	DefaultPollInterval      = 15 * time.Second
	DefaultPollMaxAttempts   = 30
	DefaultRetryMaxAttempts  = 3
	DefaultRetryInitial      = 2 * time.Second
	DefaultRetryMaxInterval  = 30 * time.Second
	DefaultConcurrency       = 8
	DefaultAnalyzerTimeout   = 30 * time.Second
	DefaultSignedURLLifetime = 24 * time.Hour
)

type Storage struct {
	ConnectionString string        `env:"STORAGE_CONNECTION_STRING" validate:"required"`
	Container        string        `env:"AUDIO_INPUT_CONTAINER_NAME" validate:"required"`
	SignedURLTTL     time.Duration `env:"SIGNED_URL_TTL" validate:"gt=0"`
}

type Speech struct {
	Endpoint string `env:"SPEECH_ENDPOINT" validate:"required,url"`
	Region   string `env:"SPEECH_REGION"`
	Key      string `env:"SPEECH_KEY" validate:"required"`
	Locale   string `env:"SPEECH_LOCALE" validate:"required"`
}

type OpenAI struct {
	Endpoint   string        `env:"OPENAI_ENDPOINT" validate:"required,url"`
	Key        string        `env:"OPENAI_KEY" validate:"required"`
	Deployment string        `env:"OPENAI_DEPLOYMENT" validate:"required"`
	APIVersion string        `env:"OPENAI_API_VERSION" validate:"required"`
	Timeout    time.Duration `env:"OPENAI_TIMEOUT" validate:"gt=0"`
}

type Poll struct {
	Interval    time.Duration `env:"POLL_INTERVAL" validate:"gte=0"`
	MaxAttempts int           `env:"POLL_MAX_ATTEMPTS" validate:"gt=0"`
}

type Retry struct {
	MaxAttempts     int           `env:"RETRY_MAX_ATTEMPTS" validate:"gt=0"`
	InitialInterval time.Duration `env:"RETRY_INITIAL_INTERVAL" validate:"gte=0"`
	MaxInterval     time.Duration `env:"RETRY_MAX_INTERVAL" validate:"gte=0"`
}

type Notify struct {
	Driver  string   `env:"NOTIFY_DRIVER" validate:"oneof=gochannel kafka none"`
	Brokers []string `env:"KAFKA_BROKERS" validate:"required_if=Driver kafka"`
	Topic   string   `env:"NOTIFY_TOPIC" validate:"required"`
}

type Config struct {
	Environment   string `env:"ENVIRONMENT"`
	LogLevel      string `env:"LOG_LEVEL"`
	Port          int    `env:"PORT" validate:"gt=0"`
	AudioBlobName string `env:"AUDIO_BLOB_NAME" validate:"required"`
	StoreURL      string `env:"STORE_URL" validate:"required"`
	OTLPEndpoint  string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	Concurrency   int    `env:"ACTIVITY_CONCURRENCY" validate:"gt=0"`

	Storage Storage
	Speech  Speech
	OpenAI  OpenAI
	Poll    Poll
	Retry   Retry
	Notify  Notify
}

// Default returns a Config carrying every default and no secrets.
func Default() Config {
	return Config{
		Port:          8080,
		AudioBlobName: "sample.mp3",
		StoreURL:      "file://./data",
		Concurrency:   DefaultConcurrency,
		Storage: Storage{
			Container:    "audio-input",
			SignedURLTTL: DefaultSignedURLLifetime,
		},
		Speech: Speech{Locale: "en-US"},
		OpenAI: OpenAI{
			APIVersion: "2024-02-01",
			Timeout:    DefaultAnalyzerTimeout,
		},
		Poll: Poll{
			Interval:    DefaultPollInterval,
			MaxAttempts: DefaultPollMaxAttempts,
		},
		Retry: Retry{
			MaxAttempts:     DefaultRetryMaxAttempts,
			InitialInterval: DefaultRetryInitial,
			MaxInterval:     DefaultRetryMaxInterval,
		},
		Notify: Notify{
			Driver: "gochannel",
			Topic:  "meetings.analyzed",
		},
	}
}

// FromEnv reads the process environment on top of Default.
func FromEnv() (Config, error) {
	return FromLookup(os.Getenv)
}

// FromLookup reads settings through lookup, so tests can supply their own values.
func FromLookup(lookup func(string) string) (Config, error) {
	cfg := Default()
	var errs []error

	str := func(dst *string, key string) {
		if v := strings.TrimSpace(lookup(key)); v != "" {
			*dst = v
		}
	}
	num := func(dst *int, key string) {
		if v := strings.TrimSpace(lookup(key)); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	dur := func(dst *time.Duration, key string) {
		if v := strings.TrimSpace(lookup(key)); v != "" {
			d, err := parseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	str(&cfg.Environment, "ENVIRONMENT")
	str(&cfg.LogLevel, "LOG_LEVEL")
	num(&cfg.Port, "PORT")
	str(&cfg.AudioBlobName, "AUDIO_BLOB_NAME")
	str(&cfg.StoreURL, "STORE_URL")
	str(&cfg.OTLPEndpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	num(&cfg.Concurrency, "ACTIVITY_CONCURRENCY")

	str(&cfg.Storage.ConnectionString, "STORAGE_CONNECTION_STRING")
	str(&cfg.Storage.Container, "AUDIO_INPUT_CONTAINER_NAME")
	dur(&cfg.Storage.SignedURLTTL, "SIGNED_URL_TTL")

	str(&cfg.Speech.Endpoint, "SPEECH_ENDPOINT")
	str(&cfg.Speech.Region, "SPEECH_REGION")
	str(&cfg.Speech.Key, "SPEECH_KEY")
	str(&cfg.Speech.Locale, "SPEECH_LOCALE")
	if cfg.Speech.Endpoint == "" && cfg.Speech.Region != "" {
		cfg.Speech.Endpoint = fmt.Sprintf("https://%s.api.cognitive.microsoft.com", cfg.Speech.Region)
	}
	cfg.Speech.Endpoint = strings.TrimRight(cfg.Speech.Endpoint, "/")

	str(&cfg.OpenAI.Endpoint, "OPENAI_ENDPOINT")
	str(&cfg.OpenAI.Key, "OPENAI_KEY")
	str(&cfg.OpenAI.Deployment, "OPENAI_DEPLOYMENT")
	str(&cfg.OpenAI.APIVersion, "OPENAI_API_VERSION")
	dur(&cfg.OpenAI.Timeout, "OPENAI_TIMEOUT")
	cfg.OpenAI.Endpoint = strings.TrimRight(cfg.OpenAI.Endpoint, "/")

	dur(&cfg.Poll.Interval, "POLL_INTERVAL")
	num(&cfg.Poll.MaxAttempts, "POLL_MAX_ATTEMPTS")

	num(&cfg.Retry.MaxAttempts, "RETRY_MAX_ATTEMPTS")
	dur(&cfg.Retry.InitialInterval, "RETRY_INITIAL_INTERVAL")
	dur(&cfg.Retry.MaxInterval, "RETRY_MAX_INTERVAL")

	str(&cfg.Notify.Driver, "NOTIFY_DRIVER")
	str(&cfg.Notify.Topic, "NOTIFY_TOPIC")
	if v := strings.TrimSpace(lookup("KAFKA_BROKERS")); v != "" {
		for _, b := range strings.Split(v, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.Notify.Brokers = append(cfg.Notify.Brokers, b)
			}
		}
	}

	if len(errs) > 0 {
		return cfg, failure.Configuration("config.FromEnv", errors.Join(errs...).Error())
	}
	return cfg, nil
}

// parseDuration accepts Go durations ("15s") and bare integers as seconds.
func parseDuration(v string) (time.Duration, error) {
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(v)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		if name := f.Tag.Get("env"); name != "" {
			return name
		}
		return f.Name
	})
	return v
}

// Validate checks the whole configuration.
func (c Config) Validate() error {
	return check("config", c)
}

// Validate checks only what the transcription client needs.
func (s Speech) Validate() error {
	return check("config.Speech", s)
}

// Validate checks only what the analyzer needs.
func (o OpenAI) Validate() error {
	return check("config.OpenAI", o)
}

// Validate checks only what the audio signer needs.
func (s Storage) Validate() error {
	return check("config.Storage", s)
}

func check(op string, v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return failure.Configuration(op, err.Error())
	}
	missing := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Tag() == "required" || fe.Tag() == "required_if" {
			missing = append(missing, fe.Field()+" must be set")
			continue
		}
		missing = append(missing, fmt.Sprintf("%s is invalid (%s)", fe.Field(), fe.Tag()))
	}
	return failure.Configuration(op, strings.Join(missing, "; "))
}
