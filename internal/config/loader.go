package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. MIRROR_SOLANA_RPC_URL.
const EnvPrefix = "MIRROR"

// Loader reads and validates configuration.
type Loader struct {
	validator *validator.Validate
	// ConfigFile overrides the search for config.yaml when set.
	ConfigFile string
	// EnvFile is loaded into the process environment before reading; missing is fine.
	EnvFile string
}

// NewLoader creates a loader with the default search rules.
func NewLoader() *Loader {
	return &Loader{
		validator:  validator.New(),
		ConfigFile: os.Getenv(EnvPrefix + "_CONFIG_FILE"),
		EnvFile:    ".env",
	}
}

// Load reads configuration with priority env > file > defaults.
func Load() (*Config, error) {
	return NewLoader().Load()
}

// Load reads and validates the configuration.
func (l *Loader) Load() (*Config, error) {
	if l.EnvFile != "" {
		if err := godotenv.Load(l.EnvFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load env file: %w", err)
		}
	}

	v := viper.New()
	l.setupViper(v)

	if err := l.readFile(v); err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := l.validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func (l *Loader) setupViper(v *viper.Viper) {
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs/")
	v.AddConfigPath("/etc/solana-twin-mirror/")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

func (l *Loader) readFile(v *viper.Viper) error {
	if l.ConfigFile != "" {
		v.SetConfigFile(l.ConfigFile)
		return v.ReadInConfig()
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return err
	}
	return nil
}

func (l *Loader) validate(cfg *Config) error {
	if err := l.validator.Struct(cfg); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			messages := make([]string, 0, len(validationErrors))
			for _, fe := range validationErrors {
				messages = append(messages, formatValidationError(fe))
			}
			return fmt.Errorf("validation errors: %s", strings.Join(messages, "; "))
		}
		return err
	}

	if !cfg.Database.UseMemory && cfg.Database.PostgresDSN == "" {
		return fmt.Errorf("database.postgres_dsn is required unless database.use_memory is set")
	}
	if cfg.Queue.MaxBackoff < cfg.Queue.InitialBackoff {
		return fmt.Errorf("queue.max_backoff (%s) must not be less than queue.initial_backoff (%s)",
			cfg.Queue.MaxBackoff, cfg.Queue.InitialBackoff)
	}
	return nil
}

func formatValidationError(err validator.FieldError) string {
	field := err.Namespace()
	param := err.Param()

	switch err.Tag() {
	case "required":
		return fmt.Sprintf("field '%s' is required", field)
	case "min", "gte":
		return fmt.Sprintf("field '%s' must be at least %s", field, param)
	case "max", "lte":
		return fmt.Sprintf("field '%s' must be at most %s", field, param)
	case "gt":
		return fmt.Sprintf("field '%s' must be greater than %s", field, param)
	case "oneof":
		return fmt.Sprintf("field '%s' must be one of: %s", field, param)
	case "url":
		return fmt.Sprintf("field '%s' must be a valid URL", field)
	default:
		return fmt.Sprintf("field '%s' failed validation '%s'", field, err.Tag())
	}
}
