package config

import (
	"errors"
	"io/fs"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment variable read by ParseEnv.
const EnvPrefix = "STEADYRATE_"

// EnvOverrides holds STEADYRATE_* environment settings. Pointer fields are
// nil when the variable is unset and leave the file value alone.
type EnvOverrides struct {
	BaseURL  *string  `env:"BASE_URL"`
	EntityID *string  `env:"ENTITY_ID"`
	Rate     *float64 `env:"RATE"`
	Duration *string  `env:"DURATION"`
	MaxVUs   *int     `env:"MAX_VUS"`
	Seed     *int64   `env:"SEED"`

	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat   string `env:"LOG_FORMAT" envDefault:"text"`
	MetricsAddr string `env:"METRICS_ADDR"`
}

// LoadEnv loads the given .env files into the process environment, skipping
// files that do not exist. Variables already set are not overwritten. It
// returns how many files were loaded.
func LoadEnv(files ...string) (int, error) {
	existing := make([]string, 0, len(files))
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return 0, err
		}
	}
	if len(existing) == 0 {
		return 0, nil
	}
	return len(existing), godotenv.Load(existing...)
}

// ParseEnv reads STEADYRATE_* variables.
func ParseEnv() (EnvOverrides, error) {
	var o EnvOverrides
	err := env.ParseWithOptions(&o, env.Options{Prefix: EnvPrefix})
	return o, err
}

// ApplyEnv overrides the configuration with the variables that were set.
func ApplyEnv(cfg *TestConfig, o EnvOverrides) {
	if o.BaseURL != nil {
		cfg.Settings.BaseURL = *o.BaseURL
	}

	if o.EntityID == nil && o.Rate == nil && o.Duration == nil && o.MaxVUs == nil && o.Seed == nil {
		return
	}
	if cfg.Scenario == nil {
		cfg.Scenario = &ScenarioConfig{}
	}
	sc := cfg.Scenario
	if o.EntityID != nil {
		sc.EntityID = *o.EntityID
	}
	if o.Rate != nil {
		sc.Rate = *o.Rate
	}
	if o.Duration != nil {
		sc.Duration = *o.Duration
	}
	if o.MaxVUs != nil {
		sc.MaxVUs = *o.MaxVUs
	}
	if o.Seed != nil {
		sc.Seed = *o.Seed
	}
}
