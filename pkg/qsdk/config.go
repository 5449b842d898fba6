package qsdk

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/quatton/qwatch/pkg/qart"
	"github.com/spf13/viper"
)

type Config struct {
	BaseURL        string        `mapstructure:"baseUrl"`
	Variant        string        `mapstructure:"variant"`
	PollInterval   time.Duration `mapstructure:"pollInterval"`
	RequestTimeout time.Duration `mapstructure:"requestTimeout"`
	LogLevel       string        `mapstructure:"logLevel"`
	Compact        qart.Limits   `mapstructure:"compact"`
	Archive        ArchiveConfig `mapstructure:"archive"`

	v *viper.Viper // instance-specific viper
}

// ArchiveConfig selects where finished runs are exported.
type ArchiveConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Backend string `mapstructure:"backend"` // local or s3
	Dir     string `mapstructure:"dir"`     // root of the local backend

	qart.S3Config `mapstructure:",squash"`
}

const (
	EnvPrefix  = "QWATCH"
	ConfigName = "qwatch"
	ConfigRoot = ".qwatch"

	BaseUrlKey        = "baseUrl"
	VariantKey        = "variant"
	PollIntervalKey   = "pollInterval"
	RequestTimeoutKey = "requestTimeout"
	LogLevelKey       = "logLevel"

	DefaultPollInterval = 500 * time.Millisecond

	ArchiveLocal = "local"
	ArchiveS3    = "s3"
)

// LoadConfig creates a new Config instance with its own viper
// This is the only way to load config (no global state)
func LoadConfig(cfgFile string) (*Config, error) {
	v := viper.New()

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", cfgFile, err)
		}
	} else {
		// Project config (tracked): qwatch.yaml in the current directory
		for _, name := range []string{"qwatch.yaml", "qwatch.yml", ".qwatch.yaml"} {
			if _, err := os.Stat(name); err == nil {
				v.SetConfigFile(name)
				if err := v.ReadInConfig(); err == nil {
					break
				}
			}
		}

		// Local overrides (untracked): .qwatch/config.yaml
		localConfigPath := filepath.Join(ConfigRoot, "config.yaml")
		if _, err := os.Stat(localConfigPath); err == nil {
			v.SetConfigFile(localConfigPath)
			if err := v.MergeInConfig(); err != nil {
				return nil, fmt.Errorf("merging local config: %w", err)
			}
		}
	}

	setDefaults(v)

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	cfg.v = v
	return cfg, nil
}

// Reload re-reads values from the underlying viper instance, picking up
// flags bound after LoadConfig.
func (c *Config) Reload() error {
	if c.v == nil {
		return nil
	}
	setDefaults(c.v)
	cfg, err := decode(c.v)
	if err != nil {
		return err
	}
	cfg.v = c.v
	*c = *cfg
	return nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("pollInterval must be positive, got %s", cfg.PollInterval)
	}
	switch cfg.Archive.Backend {
	case ArchiveLocal, ArchiveS3:
	default:
		return nil, fmt.Errorf("archive.backend must be %q or %q, got %q", ArchiveLocal, ArchiveS3, cfg.Archive.Backend)
	}
	if cfg.RequestTimeout < 0 {
		return nil, fmt.Errorf("requestTimeout must not be negative, got %s", cfg.RequestTimeout)
	}
	return &cfg, nil
}

// Get returns a value from the underlying viper instance
func (c *Config) Get(key string) interface{} {
	if c.v == nil {
		return nil
	}
	return c.v.Get(key)
}

// GetString returns a string value from the underlying viper instance
func (c *Config) GetString(key string) string {
	if c.v == nil {
		return ""
	}
	return c.v.GetString(key)
}

// Viper returns the underlying viper instance
func (c *Config) Viper() *viper.Viper {
	return c.v
}

func setDefaults(v *viper.Viper) {
	if !v.IsSet(BaseUrlKey) || v.GetString(BaseUrlKey) == "" {
		v.SetDefault(BaseUrlKey, "http://localhost:3000")
	} else {
		normalized := strings.TrimRight(v.GetString(BaseUrlKey), "/")
		v.Set(BaseUrlKey, normalized)
	}

	v.SetDefault(VariantKey, "")
	v.SetDefault(PollIntervalKey, DefaultPollInterval)
	v.SetDefault(RequestTimeoutKey, time.Duration(0))
	v.SetDefault(LogLevelKey, "info")

	limits := qart.DefaultLimits()
	v.SetDefault("compact.maxString", limits.MaxString)
	v.SetDefault("compact.maxItems", limits.MaxItems)
	v.SetDefault("compact.maxDepth", limits.MaxDepth)

	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.backend", ArchiveLocal)
	v.SetDefault("archive.dir", ConfigRoot)
	v.SetDefault("archive.endpoint", "localhost:9000")
	v.SetDefault("archive.accessKey", "")
	v.SetDefault("archive.secretKey", "")
	v.SetDefault("archive.bucket", "qwatch-runs")
	v.SetDefault("archive.region", "")
	v.SetDefault("archive.useSSL", false)
}

// OpenArchive returns the configured archive backend. The S3 bucket is not
// checked here; call EnsureBucket before uploading.
func (c *Config) OpenArchive() (qart.Archive, error) {
	if c.Archive.Backend == ArchiveS3 {
		a, err := qart.NewS3Archive(c.Archive.S3Config)
		if err != nil {
			return nil, err
		}
		return a, nil
	}
	return qart.NewLocalArchive(c.Archive.Dir), nil
}

// ConfigFileUsed returns the config file that was used (if any)
func (c *Config) ConfigFileUsed() string {
	if c.v == nil {
		return ""
	}
	return c.v.ConfigFileUsed()
}
