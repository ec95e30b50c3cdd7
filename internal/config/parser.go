package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wesleyorama2/steadyrate/internal/executor"
)

// Defaults applied by ApplyDefaults.
const (
	DefaultTimeout             = 30 * time.Second
	DefaultUserAgent           = "steadyrate/1.0"
	DefaultMaxIdleConnsPerHost = 100
	DefaultTimeUnit            = "1s"
	DefaultGracefulStop        = "30s"
	DefaultAmountScale         = int32(2)
	DefaultThresholdInterval   = time.Second
)

// LoadConfig loads a test configuration from a file.
//
// The file format is determined by extension:
//   - .yaml, .yml -> YAML
//   - .json -> JSON
func LoadConfig(path string) (*TestConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return ParseConfig(data, path)
}

// ParseConfig parses configuration data.
//
// The format is determined by the file extension in path, or defaults to YAML
// if the path is empty or has an unknown extension.
func ParseConfig(data []byte, path string) (*TestConfig, error) {
	var config TestConfig

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json":
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	}

	return &config, nil
}

// ParseDurationString parses a duration string with support for common formats.
//
// Supported formats:
//   - Standard Go duration: "30s", "2m", "1h30m", "500ms"
//   - Seconds as integer: "30" (treated as 30 seconds)
func ParseDurationString(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	d, err := time.ParseDuration(s)
	if err == nil {
		return d, nil
	}

	if seconds, err := strconv.Atoi(s); err == nil {
		return time.Duration(seconds) * time.Second, nil
	}

	return 0, fmt.Errorf("invalid duration format: %s", s)
}

// ApplyDefaults applies default values to a TestConfig.
func ApplyDefaults(config *TestConfig) {
	if config.Name == "" {
		config.Name = "default"
	}

	s := &config.Settings
	if s.Timeout == 0 {
		s.Timeout = Duration(DefaultTimeout)
	}
	if s.UserAgent == "" {
		s.UserAgent = DefaultUserAgent
	}
	if s.MaxIdleConnsPerHost == 0 {
		s.MaxIdleConnsPerHost = DefaultMaxIdleConnsPerHost
	}

	if config.Options == nil {
		config.Options = &ExecutionOptions{}
	}
	if config.Options.ThresholdInterval == 0 {
		config.Options.ThresholdInterval = Duration(DefaultThresholdInterval)
	}

	if sc := config.Scenario; sc != nil {
		applyScenarioDefaults(sc)
	}

	applyVariantDefaults(config.Workload)
}

func applyScenarioDefaults(sc *ScenarioConfig) {
	if sc.Executor == "" {
		sc.Executor = string(executor.TypeConstantArrivalRate)
	}
	if sc.TimeUnit == "" {
		sc.TimeUnit = DefaultTimeUnit
	}
	if sc.PreAllocatedVUs == 0 {
		sc.PreAllocatedVUs = 1
	}
	if sc.MaxVUs == 0 {
		sc.MaxVUs = sc.PreAllocatedVUs
	}
	if sc.GracefulStop == "" {
		sc.GracefulStop = DefaultGracefulStop
	}
	if sc.Overflow == "" {
		sc.Overflow = string(executor.OverflowQueue)
	}
	if sc.QueueDepth == 0 {
		sc.QueueDepth = sc.MaxVUs
	}
}

func applyVariantDefaults(variants []VariantConfig) {
	for i := range variants {
		v := &variants[i]
		if v.Amount != nil && v.Amount.Value == nil && v.Amount.Scale == nil {
			scale := DefaultAmountScale
			v.Amount.Scale = &scale
		}
		applyVariantDefaults(v.Variants)
	}
}
