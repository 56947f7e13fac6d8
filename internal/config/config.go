// Package config holds the runtime configuration of segflow. Values come from
// flags, SEGFLOW_* environment variables and an optional config.yaml, merged by
// viper in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/andresmejia3/segflow/internal/logging"
)

type RoutingConfig struct {
	OutputDir   string `mapstructure:"output-dir"`
	ModelWidth  int    `mapstructure:"model-width"`
	ModelHeight int    `mapstructure:"model-height"`
}

type QueueConfig struct {
	Capacity      int           `mapstructure:"capacity"`
	RetryInterval time.Duration `mapstructure:"retry-interval"`
	// MaxAttempts bounds the backpressure retries; 0 retries forever.
	MaxAttempts int `mapstructure:"max-attempts"`
}

type TransformConfig struct {
	Backend     string `mapstructure:"backend"`
	JPEGQuality int    `mapstructure:"jpeg-quality"`
}

type InferenceConfig struct {
	// Backend is "python" or "luminance".
	Backend string `mapstructure:"backend"`
	Script  string `mapstructure:"script"`
	Python  string `mapstructure:"python"`
}

// Crop is the live-capture region of interest. A zero width or height means
// the whole frame.
type Crop struct {
	X int `mapstructure:"x"`
	Y int `mapstructure:"y"`
	W int `mapstructure:"w"`
	H int `mapstructure:"h"`
}

type PostConfig struct {
	StreamAddr  string        `mapstructure:"stream-addr"`
	DialTimeout time.Duration `mapstructure:"dial-timeout"`
	Crop        Crop          `mapstructure:"crop"`
}

type LimitsConfig struct {
	MaxImageBytes int `mapstructure:"max-image-bytes"`
}

type DBConfig struct {
	URL string `mapstructure:"url"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

type Config struct {
	Routing   RoutingConfig   `mapstructure:"routing"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Transform TransformConfig `mapstructure:"transform"`
	Inference InferenceConfig `mapstructure:"inference"`
	Post      PostConfig      `mapstructure:"post"`
	Limits    LimitsConfig    `mapstructure:"limits"`
	Log       logging.Config  `mapstructure:"log"`
	DB        DBConfig        `mapstructure:"db"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// DefaultConfig returns the values used when nothing else is configured.
// The model resolution matches the segmentation network (623x188).
func DefaultConfig() *Config {
	return &Config{
		Routing: RoutingConfig{
			OutputDir:   "./",
			ModelWidth:  623,
			ModelHeight: 188,
		},
		Queue: QueueConfig{
			Capacity:      8,
			RetryInterval: 200 * time.Millisecond,
		},
		Transform: TransformConfig{
			Backend:     "software",
			JPEGQuality: 100,
		},
		Inference: InferenceConfig{
			Backend: "python",
			Script:  "python/infer.py",
			Python:  "python3",
		},
		Post: PostConfig{
			DialTimeout: 5 * time.Second,
		},
		Limits: LimitsConfig{
			MaxImageBytes: 256 << 20,
		},
		Log: logging.Config{
			Level:   "info",
			Format:  "console",
			Outputs: []string{"stderr"},
		},
	}
}

// Load unmarshals v over the defaults and validates the result.
func Load(v *viper.Viper) (*Config, error) {
	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the pipeline cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Routing.ModelWidth < 2 || c.Routing.ModelHeight < 2 {
		errs = append(errs, fmt.Errorf("model resolution must be at least 2x2, got %dx%d", c.Routing.ModelWidth, c.Routing.ModelHeight))
	}
	if c.Queue.Capacity < 1 {
		errs = append(errs, fmt.Errorf("queue capacity must be >= 1, got %d", c.Queue.Capacity))
	}
	if c.Queue.RetryInterval <= 0 {
		errs = append(errs, fmt.Errorf("queue retry interval must be positive, got %s", c.Queue.RetryInterval))
	}
	if c.Queue.MaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("queue max attempts must be >= 0, got %d", c.Queue.MaxAttempts))
	}
	if c.Transform.JPEGQuality < 1 || c.Transform.JPEGQuality > 100 {
		errs = append(errs, fmt.Errorf("jpeg quality must be between 1 and 100, got %d", c.Transform.JPEGQuality))
	}
	switch c.Inference.Backend {
	case "python", "luminance":
	default:
		errs = append(errs, fmt.Errorf("unknown inference backend %q", c.Inference.Backend))
	}
	if c.Post.Crop.X < 0 || c.Post.Crop.Y < 0 || c.Post.Crop.W < 0 || c.Post.Crop.H < 0 {
		errs = append(errs, fmt.Errorf("crop must not be negative, got %+v", c.Post.Crop))
	}
	if c.Limits.MaxImageBytes <= 0 {
		errs = append(errs, fmt.Errorf("max image bytes must be positive, got %d", c.Limits.MaxImageBytes))
	}
	return errors.Join(errs...)
}
