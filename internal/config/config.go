// Package config provides configuration loading from environment variables
// and an optional YAML pipeline file.
package config

import (
	"fmt"
	"modelops/internal/apperrors"
	"strings"
	"time"
)

// Readiness policies for announcing a promotion across variants.
const (
	PolicyAll = "all"
	PolicyAny = "any"
)

// Store backends.
const (
	StoreMemory = "memory"
	StoreLocal  = "local"
	StoreMinIO  = "minio"
)

// Compute engines.
const (
	EngineNative = "native"
	EngineDocker = "docker"
)

// Config is the full service configuration.
type Config struct {
	Service  ServiceConfig
	Store    StoreConfig
	Pipeline PipelineConfig
	Merge    MergeConfig
	Compute  ComputeConfig
	Events   EventsConfig
}

// ServiceConfig holds configuration for the HTTP surfaces.
type ServiceConfig struct {
	Port              string
	MetricsPort       string
	APIKey            string
	ShutdownDrainWait time.Duration // Time to wait for load balancer to drain (0 to skip)
	LogLevel          string
}

// StoreConfig selects and configures the object store backend.
type StoreConfig struct {
	Backend string
	Root    string // local backend directory
	MinIO   MinIOConfig
}

// MinIOConfig holds S3-compatible endpoint settings.
type MinIOConfig struct {
	Endpoint     string
	AccessKey    string
	SecretKey    string
	Region       string
	UseSSL       bool
	BucketPrefix string // prepended to every container name
}

// PipelineConfig holds the lifecycle settings.
type PipelineConfig struct {
	Variants   []string
	Policy     string
	Interval   time.Duration // 0 disables scheduled runs
	Thresholds map[string]float64
	Await      AwaitConfig
}

// AwaitConfig configures the polling awaiter.
type AwaitConfig struct {
	MaxAttempts int
	Delay       time.Duration
	Backoff     string // "constant" or "exponential"
}

// MergeConfig configures the branch merge announcement.
type MergeConfig struct {
	Enabled    bool
	APIURL     string
	Repo       string
	Token      string
	Base       string
	Head       string
	PRFallback bool
}

// ComputeConfig selects the preprocess/train/predict collaborators.
type ComputeConfig struct {
	Engine          string
	PreprocessImage string
	TrainImage      string
	PredictImage    string
	Timeout         time.Duration
}

// EventsConfig configures lifecycle event notifications.
type EventsConfig struct {
	URL        string
	SigningKey string
	Workers    int
	BufferSize int
}

// Defaults returns the configuration used when nothing is set.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Port:              "8080",
			MetricsPort:       "9090",
			ShutdownDrainWait: 5 * time.Second,
			LogLevel:          "info",
		},
		Store: StoreConfig{
			Backend: StoreLocal,
			Root:    "data",
		},
		Pipeline: PipelineConfig{
			Variants: []string{"red", "white"},
			Policy:   PolicyAll,
			Interval: 10 * time.Minute,
			Thresholds: map[string]float64{
				"accuracy":  0.70,
				"precision": 0.65,
				"recall":    0.65,
				"f1":        0.65,
			},
			Await: AwaitConfig{
				MaxAttempts: 30,
				Delay:       5 * time.Second,
				Backoff:     "constant",
			},
		},
		Merge: MergeConfig{
			Enabled:    true,
			APIURL:     "https://api.github.com",
			Base:       "alpha",
			Head:       "testing",
			PRFallback: true,
		},
		Compute: ComputeConfig{
			Engine:  EngineNative,
			Timeout: 30 * time.Minute,
		},
		Events: EventsConfig{
			Workers:    2,
			BufferSize: 1000,
		},
	}
}

// Load builds the configuration from defaults, the optional YAML file named by
// PIPELINE_CONFIG, and environment variables, in that order of precedence.
func Load() (*Config, error) {
	cfg := Defaults()

	if path := GetEnv("PIPELINE_CONFIG", ""); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Service.Port = GetEnv("PORT", c.Service.Port)
	c.Service.MetricsPort = GetEnv("METRICS_PORT", c.Service.MetricsPort)
	c.Service.APIKey = GetSecretFile(GetEnv("API_KEY_FILE", ""))
	c.Service.ShutdownDrainWait = GetDurationEnv("SHUTDOWN_DRAIN_WAIT", c.Service.ShutdownDrainWait)
	c.Service.LogLevel = GetEnv("LOG_LEVEL", c.Service.LogLevel)

	c.Store.Backend = GetEnv("STORE_BACKEND", c.Store.Backend)
	c.Store.Root = GetEnv("STORE_ROOT", c.Store.Root)
	c.Store.MinIO.Endpoint = GetEnv("MINIO_ENDPOINT", c.Store.MinIO.Endpoint)
	c.Store.MinIO.AccessKey = GetEnv("MINIO_ACCESS_KEY", c.Store.MinIO.AccessKey)
	if secret := GetSecret("MINIO_SECRET_KEY", "MINIO_SECRET_KEY_FILE"); secret != "" {
		c.Store.MinIO.SecretKey = secret
	}
	c.Store.MinIO.Region = GetEnv("MINIO_REGION", c.Store.MinIO.Region)
	c.Store.MinIO.UseSSL = GetBoolEnv("MINIO_USE_SSL", c.Store.MinIO.UseSSL)
	c.Store.MinIO.BucketPrefix = GetEnv("MINIO_BUCKET_PREFIX", c.Store.MinIO.BucketPrefix)

	c.Pipeline.Variants = GetListEnv("VARIANTS", c.Pipeline.Variants)
	c.Pipeline.Policy = strings.ToLower(GetEnv("PROMOTION_POLICY", c.Pipeline.Policy))
	c.Pipeline.Interval = GetDurationEnv("PIPELINE_INTERVAL", c.Pipeline.Interval)
	for _, name := range []string{"accuracy", "precision", "recall", "f1"} {
		key := "THRESHOLD_" + strings.ToUpper(name)
		if current, ok := c.Pipeline.Thresholds[name]; ok {
			c.Pipeline.Thresholds[name] = GetFloatEnv(key, current)
		} else if v := GetFloatEnv(key, -1); v >= 0 {
			c.Pipeline.Thresholds[name] = v
		}
	}
	c.Pipeline.Await.MaxAttempts = GetIntEnv("AWAIT_MAX_ATTEMPTS", c.Pipeline.Await.MaxAttempts)
	c.Pipeline.Await.Delay = GetDurationEnv("AWAIT_DELAY", c.Pipeline.Await.Delay)
	c.Pipeline.Await.Backoff = GetEnv("AWAIT_BACKOFF", c.Pipeline.Await.Backoff)

	c.Merge.Enabled = GetBoolEnv("MERGE_ENABLED", c.Merge.Enabled)
	c.Merge.APIURL = GetEnv("GITHUB_API_URL", c.Merge.APIURL)
	c.Merge.Repo = GetEnv("GITHUB_REPO", c.Merge.Repo)
	if token := GetSecret("GITHUB_TOKEN", "GITHUB_TOKEN_FILE"); token != "" {
		c.Merge.Token = token
	}
	c.Merge.Base = GetEnv("MERGE_BASE", c.Merge.Base)
	c.Merge.Head = GetEnv("MERGE_HEAD", c.Merge.Head)
	c.Merge.PRFallback = GetBoolEnv("MERGE_PR_FALLBACK", c.Merge.PRFallback)

	c.Compute.Engine = GetEnv("COMPUTE_ENGINE", c.Compute.Engine)
	c.Compute.PreprocessImage = GetEnv("DOCKER_PREPROCESS_IMAGE", c.Compute.PreprocessImage)
	c.Compute.TrainImage = GetEnv("DOCKER_TRAIN_IMAGE", c.Compute.TrainImage)
	c.Compute.PredictImage = GetEnv("DOCKER_PREDICT_IMAGE", c.Compute.PredictImage)
	c.Compute.Timeout = GetDurationEnv("COMPUTE_TIMEOUT", c.Compute.Timeout)

	c.Events.URL = GetEnv("EVENTS_URL", c.Events.URL)
	if key := GetSecretFile(GetEnv("EVENTS_KEY_FILE", "")); key != "" {
		c.Events.SigningKey = key
	}
	c.Events.Workers = GetIntEnv("EVENTS_WORKERS", c.Events.Workers)
	c.Events.BufferSize = GetIntEnv("EVENTS_BUFFER_SIZE", c.Events.BufferSize)
}

// Validate reports the first missing or inconsistent setting as a configuration error.
func (c *Config) Validate() error {
	if len(c.Pipeline.Variants) == 0 {
		return apperrors.Configuration("VARIANTS", "at least one variant is required")
	}
	seen := make(map[string]bool, len(c.Pipeline.Variants))
	for _, v := range c.Pipeline.Variants {
		if seen[v] {
			return apperrors.Configuration("VARIANTS", fmt.Sprintf("duplicate variant %q", v))
		}
		seen[v] = true
	}

	switch c.Pipeline.Policy {
	case PolicyAll, PolicyAny:
	default:
		return apperrors.Configuration("PROMOTION_POLICY", fmt.Sprintf("must be %q or %q, got %q", PolicyAll, PolicyAny, c.Pipeline.Policy))
	}

	if len(c.Pipeline.Thresholds) == 0 {
		return apperrors.Configuration("thresholds", "at least one threshold is required")
	}
	for name, v := range c.Pipeline.Thresholds {
		if v < 0 || v > 1 {
			return apperrors.Configuration("thresholds."+name, fmt.Sprintf("must be within [0, 1], got %v", v))
		}
	}

	if c.Pipeline.Await.MaxAttempts < 1 {
		return apperrors.Configuration("AWAIT_MAX_ATTEMPTS", "must be at least 1")
	}
	if c.Pipeline.Await.Delay < 0 {
		return apperrors.Configuration("AWAIT_DELAY", "must not be negative")
	}
	switch c.Pipeline.Await.Backoff {
	case "constant", "exponential":
	default:
		return apperrors.Configuration("AWAIT_BACKOFF", fmt.Sprintf("must be constant or exponential, got %q", c.Pipeline.Await.Backoff))
	}

	switch c.Store.Backend {
	case StoreMemory:
	case StoreLocal:
		if c.Store.Root == "" {
			return apperrors.Configuration("STORE_ROOT", "is required for the local backend")
		}
	case StoreMinIO:
		if c.Store.MinIO.Endpoint == "" {
			return apperrors.Configuration("MINIO_ENDPOINT", "is required for the minio backend")
		}
		if c.Store.MinIO.AccessKey == "" || c.Store.MinIO.SecretKey == "" {
			return apperrors.Configuration("MINIO_ACCESS_KEY", "access and secret keys are required for the minio backend")
		}
	default:
		return apperrors.Configuration("STORE_BACKEND", fmt.Sprintf("unknown backend %q", c.Store.Backend))
	}

	if c.Merge.Enabled {
		if c.Merge.Repo == "" {
			return apperrors.Configuration("GITHUB_REPO", "is required when merging is enabled")
		}
		if c.Merge.Token == "" {
			return apperrors.Configuration("GITHUB_TOKEN", "is required when merging is enabled")
		}
		if c.Merge.Base == "" || c.Merge.Head == "" {
			return apperrors.Configuration("MERGE_BASE", "base and head branches are required")
		}
	}

	switch c.Compute.Engine {
	case EngineNative:
	case EngineDocker:
		if c.Compute.PreprocessImage == "" || c.Compute.TrainImage == "" || c.Compute.PredictImage == "" {
			return apperrors.Configuration("DOCKER_TRAIN_IMAGE", "preprocess, train and predict images are required for the docker engine")
		}
	default:
		return apperrors.Configuration("COMPUTE_ENGINE", fmt.Sprintf("unknown engine %q", c.Compute.Engine))
	}

	return nil
}
