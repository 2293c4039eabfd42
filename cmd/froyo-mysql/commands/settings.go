package commands

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/openfroyo/froyo-mysql/pkg/stores"
	"github.com/openfroyo/froyo-mysql/pkg/telemetry"
)

// EnvPrefix prefixes environment overrides, e.g. FROYO_MYSQL_STORE_PATH.
const EnvPrefix = "FROYO_MYSQL"

// Settings is the CLI configuration read from froyo-mysql.yaml and the
// environment.
type Settings struct {
	Telemetry telemetry.Config `mapstructure:"telemetry"`
	Store     stores.Config    `mapstructure:"store"`
	Policy    PolicySettings   `mapstructure:"policy"`
	Facts     FactsSettings    `mapstructure:"facts"`
	SSH       SSHSettings      `mapstructure:"ssh"`

	// ScriptTimeout bounds each attribute script.
	ScriptTimeout time.Duration `mapstructure:"script_timeout" validate:"gte=0"`
}

// PolicySettings configures user policies.
type PolicySettings struct {
	// Dir holds .rego and .json policy files. Empty means built-ins only.
	Dir string `mapstructure:"dir"`
}

// FactsSettings configures the facts cache.
type FactsSettings struct {
	TTL time.Duration `mapstructure:"ttl" validate:"gte=0"`
}

// SSHSettings are applied to every --target connection.
type SSHSettings struct {
	PrivateKey            string        `mapstructure:"private_key"`
	KnownHosts            string        `mapstructure:"known_hosts"`
	StrictHostKeyChecking bool          `mapstructure:"strict_host_key_checking"`
	Sudo                  *bool         `mapstructure:"sudo"`
	ConnectionTimeout     time.Duration `mapstructure:"connection_timeout" validate:"gte=0"`
	CommandTimeout        time.Duration `mapstructure:"command_timeout" validate:"gte=0"`
}

func defaultDataDir() string {
	if dir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(dir, ".froyo-mysql")
	}
	return ".froyo-mysql"
}

func setDefaults(v *viper.Viper) {
	tel := telemetry.DefaultConfig()
	v.SetDefault("telemetry.service_name", tel.ServiceName)
	v.SetDefault("telemetry.service_version", tel.ServiceVersion)
	v.SetDefault("telemetry.logging.level", tel.Logging.Level)
	v.SetDefault("telemetry.logging.format", tel.Logging.Format)
	v.SetDefault("telemetry.logging.output", tel.Logging.Output)
	v.SetDefault("telemetry.tracing.enabled", tel.Tracing.Enabled)
	v.SetDefault("telemetry.tracing.exporter", tel.Tracing.Exporter)
	v.SetDefault("telemetry.tracing.sampling_rate", tel.Tracing.SamplingRate)
	v.SetDefault("telemetry.tracing.export_timeout", tel.Tracing.ExportTimeout)
	v.SetDefault("telemetry.metrics.enabled", tel.Metrics.Enabled)
	v.SetDefault("telemetry.metrics.namespace", tel.Metrics.Namespace)

	v.SetDefault("store.path", filepath.Join(defaultDataDir(), "state.db"))
	v.SetDefault("facts.ttl", time.Hour)
	v.SetDefault("script_timeout", 5*time.Second)
	v.SetDefault("ssh.strict_host_key_checking", true)
	v.SetDefault("ssh.connection_timeout", 30*time.Second)
	v.SetDefault("ssh.command_timeout", 10*time.Minute)
}

// LoadSettings reads the settings file at path (or froyo-mysql.yaml in
// the working directory or ~/.froyo-mysql when path is empty), applies
// FROYO_MYSQL_* environment overrides and validates the result. A missing
// default settings file is not an error.
func LoadSettings(v *viper.Viper, path string) (*Settings, error) {
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("froyo-mysql")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(defaultDataDir())
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read settings: %w", err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("failed to decode settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks the settings.
func (s *Settings) Validate() error {
	if err := validator.New().Struct(s); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	return s.Telemetry.Validate()
}
