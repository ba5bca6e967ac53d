package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	APIName            string           `yaml:"api_name" mapstructure:"api_name"`
	AggregatorDatasite string           `yaml:"aggregator_datasite" mapstructure:"aggregator_datasite"`
	Filepath           string           `yaml:"filepath" mapstructure:"filepath"`
	Parameters         ParametersConfig `yaml:"parameters" mapstructure:"parameters"`
	Extract            ExtractConfig    `yaml:"extract" mapstructure:"extract"`
	Clean              CleanConfig      `yaml:"clean" mapstructure:"clean"`
	Store              StoreConfig      `yaml:"store" mapstructure:"store"`
	Datasite           DatasiteConfig   `yaml:"datasite" mapstructure:"datasite"`
	Dev                DevConfig        `yaml:"dev" mapstructure:"dev"`
	Log                LogConfig        `yaml:"log" mapstructure:"log"`
}

// ParametersConfig selects the measurement series and the privacy budget.
type ParametersConfig struct {
	Type       string   `yaml:"type" mapstructure:"type"`
	Epsilon    float64  `yaml:"epsilon" mapstructure:"epsilon"`
	Bounds     string   `yaml:"bounds" mapstructure:"bounds"`
	LowerBound *float64 `yaml:"lower_bound" mapstructure:"lower_bound"`
	UpperBound *float64 `yaml:"upper_bound" mapstructure:"upper_bound"`
}

// ExtractConfig configures how the source archive is read.
type ExtractConfig struct {
	Member     string `yaml:"member" mapstructure:"member"`
	AllowEmpty bool   `yaml:"allow_empty" mapstructure:"allow_empty"`
}

// CleanConfig configures record normalization.
type CleanConfig struct {
	// MinDate drops records attributed to dates before it (YYYY-MM-DD). Empty disables the floor.
	MinDate string `yaml:"min_date" mapstructure:"min_date"`
}

// StoreConfig configures the fingerprint and run history backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	Dir         string `yaml:"dir" mapstructure:"dir"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// DatasiteConfig locates the owner's datasite inside the sync root.
type DatasiteConfig struct {
	Root  string `yaml:"root" mapstructure:"root"`
	Email string `yaml:"email" mapstructure:"email"`
}

// DevConfig enables iterative development runs.
type DevConfig struct {
	// Enabled forces every run and never records a fingerprint.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// MinDate parses Clean.MinDate. The zero time means no floor.
func (c *Config) MinDate() (time.Time, error) {
	if c.Clean.MinDate == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse("2006-01-02", c.Clean.MinDate)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "config: parse clean.min_date %q", c.Clean.MinDate)
	}
	return t, nil
}

// Load reads configuration from file and environment. An empty path searches
// for config.yaml in the working directory.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Config file
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	// Environment
	v.SetEnvPrefix("HEALTHSTEPS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("api_name", "health_steps_counter")
	v.SetDefault("extract.member", "apple_health_export/export.xml")
	v.SetDefault("extract.allow_empty", false)
	v.SetDefault("store.driver", "file")
	v.SetDefault("store.dir", "./hashes")
	v.SetDefault("datasite.root", "~/SyftBox")
	v.SetDefault("dev.enabled", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// AutomaticEnv only resolves keys viper already knows about.
	for _, key := range []string{
		"aggregator_datasite", "filepath",
		"parameters.type", "parameters.epsilon", "parameters.bounds",
		"parameters.lower_bound", "parameters.upper_bound",
		"clean.min_date", "store.database_url", "datasite.email",
	} {
		_ = v.BindEnv(key)
	}

	// Read config file (optional when searching)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
