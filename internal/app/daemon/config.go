package daemon

import (
	"io"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/osa030/timedetector/internal/wakelock"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

const defaultUpdateThreshold = 2 * time.Second

type Config struct {
	AutoDetection   bool           `yaml:"auto_detection"`
	UpdateThreshold time.Duration  `yaml:"update_threshold" validate:"gte=0"`
	DryRun          bool           `yaml:"dry_run"`
	WakeLock        WakeLockConfig `yaml:"wake_lock"`
	MQTT            MQTTConfig     `yaml:"mqtt"`
}

// WakeLockConfig selects the kernel wake lock. An empty Dir disables it.
type WakeLockConfig struct {
	Dir  string `yaml:"dir"`
	Name string `yaml:"name" validate:"required,excludesall=/"`
}

// MQTTConfig enables publishing network time notifications when Broker is set.
type MQTTConfig struct {
	Broker string `yaml:"broker" validate:"omitempty,hostname_port"`
	Topic  string `yaml:"topic" validate:"required_with=Broker"`
}

// DefaultConfig returns the configuration used for keys a file leaves out.
func DefaultConfig() Config {
	return Config{
		AutoDetection:   true,
		UpdateThreshold: defaultUpdateThreshold,
		WakeLock: WakeLockConfig{
			Name: wakelock.DefaultName,
		},
	}
}

// LoadConfig reads a YAML config file over the defaults. An empty path
// returns the defaults.
func LoadConfig(fs afero.Fs, path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	f, err := fs.Open(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "open config")
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, errors.Wrapf(err, "parse config %s", path)
	}
	return cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}

	return nil
}
