// Package config loads the kiosk configuration from a YAML file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/snapbooth/photobooth-go/filter"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Camera    CameraConfig    `mapstructure:"camera"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Composite CompositeConfig `mapstructure:"composite"`
	Frames    FramesConfig    `mapstructure:"frames"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Payment   PaymentConfig   `mapstructure:"payment"`
	Share     ShareConfig     `mapstructure:"share"`
}

type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"` // gin and logger mode: debug or release.
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PublicURL    string        `mapstructure:"public_url"` // Base of photo URLs in responses.
}

type CameraConfig struct {
	Recorder string        `mapstructure:"recorder"` // ffmpeg, gstreamer, imagesnap or still.
	Device   string        `mapstructure:"device"`
	Still    string        `mapstructure:"still"` // Image file for the still recorder.
	Width    int           `mapstructure:"width"`
	Height   int           `mapstructure:"height"`
	Interval time.Duration `mapstructure:"interval"`
}

type PipelineConfig struct {
	DefaultFilter       string             `mapstructure:"default_filter"`
	Adjustments         filter.Adjustments `mapstructure:"adjustments"`
	EnableFaceDetection bool               `mapstructure:"enable_face_detection"`
	CascadePath         string             `mapstructure:"cascade_path"`     // pigo cascade file.
	DetectorProcess     string             `mapstructure:"detector_process"` // External detector, used instead of pigo if set.
	DetectionStride     int                `mapstructure:"detection_stride"`
	SmoothWindow        int                `mapstructure:"smooth_window"`
	PreviewQuality      int                `mapstructure:"preview_quality"` // JPEG quality of websocket previews.
}

type CompositeConfig struct {
	DPI       int    `mapstructure:"dpi"`
	Gap       int    `mapstructure:"gap"`
	Policy    string `mapstructure:"policy"`     // cover or fit.
	FrameMode string `mapstructure:"frame_mode"` // composite-size or frame-size.
	Alignment string `mapstructure:"alignment"`
}

type FramesConfig struct {
	Dir           string `mapstructure:"dir"`
	PreviewWidth  int    `mapstructure:"preview_width"`
	PreviewHeight int    `mapstructure:"preview_height"`
	Watch         bool   `mapstructure:"watch"`
}

type StorageConfig struct {
	PhotosDir string `mapstructure:"photos_dir"`
}

type PaymentConfig struct {
	Store  string      `mapstructure:"store"` // memory or redis.
	Amount int         `mapstructure:"amount"`
	Redis  RedisConfig `mapstructure:"redis"`
}

type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type ShareConfig struct {
	BaseURL string `mapstructure:"base_url"` // Sharing is off if empty.
	APIKey  string `mapstructure:"api_key"`
	HMACKey string `mapstructure:"hmac_key"` // Hex.
}

// Load reads the configuration from a YAML file. Settings missing from the
// file keep their defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("photobooth")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return unmarshal(v)
}

// New loads config.yaml from the working directory, falling back to the
// defaults if it cannot be read.
func New() *Config {
	cfg, err := Load("config.yaml")
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns the default configuration.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg, err := unmarshal(v)
	if err != nil {
		// Defaults always decode.
		panic(err)
	}
	return cfg
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Payment.Store {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown payment store %q", c.Payment.Store)
	}
	if c.Composite.DPI <= 0 {
		return errors.New("composite dpi must be positive")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", ":3001")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.public_url", "http://localhost:3001")

	v.SetDefault("camera.recorder", "ffmpeg")
	v.SetDefault("camera.device", "")
	v.SetDefault("camera.still", "")
	v.SetDefault("camera.width", 1280)
	v.SetDefault("camera.height", 720)
	v.SetDefault("camera.interval", time.Second/15)

	v.SetDefault("pipeline.default_filter", string(filter.SmoothSkin))
	v.SetDefault("pipeline.adjustments.brightness", 1.0)
	v.SetDefault("pipeline.adjustments.contrast", 1.0)
	v.SetDefault("pipeline.adjustments.saturation", 1.0)
	v.SetDefault("pipeline.adjustments.sharpness", 0.0)
	v.SetDefault("pipeline.enable_face_detection", true)
	v.SetDefault("pipeline.cascade_path", "./cascade/facefinder")
	v.SetDefault("pipeline.detector_process", "")
	v.SetDefault("pipeline.detection_stride", 6)
	v.SetDefault("pipeline.smooth_window", 3)
	v.SetDefault("pipeline.preview_quality", 70)

	v.SetDefault("composite.dpi", 300)
	v.SetDefault("composite.gap", 5)
	v.SetDefault("composite.policy", "cover")
	v.SetDefault("composite.frame_mode", "composite-size")
	v.SetDefault("composite.alignment", "center")

	v.SetDefault("frames.dir", "./frames")
	v.SetDefault("frames.preview_width", 300)
	v.SetDefault("frames.preview_height", 450)
	v.SetDefault("frames.watch", true)

	v.SetDefault("storage.photos_dir", "./photos")

	v.SetDefault("payment.store", "memory")
	v.SetDefault("payment.amount", 500)
	v.SetDefault("payment.redis.addr", "localhost:6379")
	v.SetDefault("payment.redis.password", "")
	v.SetDefault("payment.redis.db", 0)
	v.SetDefault("payment.redis.ttl", 24*time.Hour)

	v.SetDefault("share.base_url", "")
	v.SetDefault("share.api_key", "")
	v.SetDefault("share.hmac_key", "")
}
