package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	BackendLocal  = "local"
	BackendRemote = "remote"

	HeatmapOff    = "off"
	HeatmapInline = "inline"
	HeatmapFile   = "file"
)

// Config is read from an optional YAML file (CONFIG_FILE) and then from the
// environment, which wins. A .env file in the working directory is loaded
// first if present.
type Config struct {
	Port    string `yaml:"port"`
	Backend string `yaml:"backend"`

	ModelPath      string `yaml:"model_path"`
	MetadataPath   string `yaml:"metadata_path"`
	ONNXRuntimeLib string `yaml:"onnxruntime_lib"`

	HFEndpoint string `yaml:"hf_endpoint"`
	HFModel    string `yaml:"hf_model"`
	HFToken    string `yaml:"hf_token"`

	GeminiAPIKey string `yaml:"gemini_api_key"`
	GeminiModel  string `yaml:"gemini_model"`

	UpstreamTimeout time.Duration `yaml:"upstream_timeout"`

	HeatmapMode      string        `yaml:"heatmap_mode"`
	HeatmapDir       string        `yaml:"heatmap_dir"`
	HeatmapRetention time.Duration `yaml:"heatmap_retention"`

	ScratchDir  string `yaml:"scratch_dir"`
	MaxUploadMB int64  `yaml:"max_upload_mb"`

	OverlayImageWeight float64 `yaml:"overlay_image_weight"`
	OverlayHeatWeight  float64 `yaml:"overlay_heat_weight"`
}

func defaults() *Config {
	return &Config{
		Port:               "5300",
		Backend:            BackendRemote,
		ModelPath:          "models/model.onnx",
		MetadataPath:       "models/model_metadata.json",
		HFEndpoint:         "https://api-inference.huggingface.co",
		HFModel:            "linkanjarad/mobilenet_v2_1.0_224-plant-disease-identification",
		GeminiModel:        "gemini-2.0-flash",
		UpstreamTimeout:    60 * time.Second,
		HeatmapMode:        HeatmapInline,
		HeatmapDir:         "static/heatmaps",
		HeatmapRetention:   time.Hour,
		MaxUploadMB:        10,
		OverlayImageWeight: 0.8,
		OverlayHeatWeight:  0.5,
	}
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("ignoring .env: %v", err)
	}

	cfg := defaults()

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString(&c.Port, "PORT")
	setString(&c.Backend, "CLASSIFIER_BACKEND")
	setString(&c.ModelPath, "MODEL_PATH")
	setString(&c.MetadataPath, "MODEL_METADATA_PATH")
	setString(&c.ONNXRuntimeLib, "ONNXRUNTIME_LIB")
	setString(&c.HFEndpoint, "HF_ENDPOINT")
	setString(&c.HFModel, "HF_MODEL")
	setString(&c.HFToken, "HF_API_TOKEN")
	setString(&c.GeminiAPIKey, "GEMINI_API_KEY")
	setString(&c.GeminiModel, "GEMINI_MODEL")
	setString(&c.HeatmapMode, "HEATMAP_MODE")
	setString(&c.HeatmapDir, "HEATMAP_DIR")
	setString(&c.ScratchDir, "SCRATCH_DIR")

	if err := setDuration(&c.UpstreamTimeout, "UPSTREAM_TIMEOUT"); err != nil {
		return err
	}
	if err := setDuration(&c.HeatmapRetention, "HEATMAP_RETENTION"); err != nil {
		return err
	}
	if v := getEnv("MAX_UPLOAD_MB"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("MAX_UPLOAD_MB: %w", err)
		}
		c.MaxUploadMB = n
	}
	if err := setFloat(&c.OverlayImageWeight, "OVERLAY_IMAGE_WEIGHT"); err != nil {
		return err
	}
	return setFloat(&c.OverlayHeatWeight, "OVERLAY_HEAT_WEIGHT")
}

func (c *Config) Validate() error {
	switch c.Backend {
	case BackendLocal:
		if c.ModelPath == "" || c.MetadataPath == "" {
			return errors.New("local backend needs MODEL_PATH and MODEL_METADATA_PATH")
		}
	case BackendRemote:
		if c.HFToken == "" {
			return errors.New("missing required env HF_API_TOKEN")
		}
	default:
		return fmt.Errorf("unknown classifier backend %q", c.Backend)
	}

	switch c.HeatmapMode {
	case HeatmapOff, HeatmapInline, HeatmapFile:
	default:
		return fmt.Errorf("unknown heatmap mode %q", c.HeatmapMode)
	}

	if c.GeminiAPIKey == "" {
		return errors.New("missing required env GEMINI_API_KEY")
	}
	if c.UpstreamTimeout <= 0 {
		return errors.New("upstream timeout must be positive")
	}
	if c.MaxUploadMB <= 0 {
		return errors.New("max upload size must be positive")
	}
	if c.OverlayImageWeight < 0 || c.OverlayHeatWeight < 0 {
		return errors.New("overlay weights must not be negative")
	}
	return nil
}

// MaxUploadBytes is the multipart memory limit.
func (c *Config) MaxUploadBytes() int64 {
	return c.MaxUploadMB << 20
}

func getEnv(k string) string {
	return strings.TrimSpace(os.Getenv(k))
}

func setString(dst *string, k string) {
	if v := getEnv(k); v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, k string) error {
	v := getEnv(k)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", k, err)
	}
	*dst = d
	return nil
}

func setFloat(dst *float64, k string) error {
	v := getEnv(k)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("%s: %w", k, err)
	}
	*dst = f
	return nil
}
