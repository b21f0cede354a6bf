package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type CaptureConfig struct {
	TargetFPS       float64 `mapstructure:"target_fps"`
	MaxSurfaceWidth int     `mapstructure:"max_surface_width"`
	OverlayRatio    float64 `mapstructure:"overlay_ratio"`
	OverlayMargin   int     `mapstructure:"overlay_margin"`
}

type EncodeConfig struct {
	VideoBitrate  int           `mapstructure:"video_bitrate"`
	AudioBitrate  int           `mapstructure:"audio_bitrate"`
	ChunkDuration time.Duration `mapstructure:"chunk_duration"`
}

type UploadConfig struct {
	Bucket           string        `mapstructure:"bucket"`
	LocalDir         string        `mapstructure:"local_dir"`
	MaxArtifactBytes int64         `mapstructure:"max_artifact_bytes"`
	Retries          int           `mapstructure:"retries"`
	BackoffBase      time.Duration `mapstructure:"backoff_base"`
	AttemptTimeout   time.Duration `mapstructure:"attempt_timeout"`
}

type LiveConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	Quality  int           `mapstructure:"quality"`
}

type HealthConfig struct {
	PollEvery time.Duration `mapstructure:"poll_every"`
	FairAfter time.Duration `mapstructure:"fair_after"`
	PoorAfter time.Duration `mapstructure:"poor_after"`
}

type Config struct {
	Mode      string        `mapstructure:"mode"`
	Port      int           `mapstructure:"port"`
	RedisAddr string        `mapstructure:"redis_addr"`
	Capture   CaptureConfig `mapstructure:"capture"`
	Encode    EncodeConfig  `mapstructure:"encode"`
	Upload    UploadConfig  `mapstructure:"upload"`
	Live      LiveConfig    `mapstructure:"live"`
	Health    HealthConfig  `mapstructure:"health"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("redis_addr", "localhost:6379")

	v.SetDefault("capture.target_fps", 30.0)
	v.SetDefault("capture.max_surface_width", 1280)
	v.SetDefault("capture.overlay_ratio", 0.2)
	v.SetDefault("capture.overlay_margin", 20)

	v.SetDefault("encode.video_bitrate", 2_500_000)
	v.SetDefault("encode.audio_bitrate", 128_000)
	v.SetDefault("encode.chunk_duration", "5s")

	v.SetDefault("upload.bucket", "")
	v.SetDefault("upload.local_dir", "./recordings")
	v.SetDefault("upload.max_artifact_bytes", int64(5)<<30)
	v.SetDefault("upload.retries", 3)
	v.SetDefault("upload.backoff_base", "1s")
	v.SetDefault("upload.attempt_timeout", "30s")

	v.SetDefault("live.interval", "2s")
	v.SetDefault("live.quality", 40)

	v.SetDefault("health.poll_every", "3s")
	v.SetDefault("health.fair_after", "3s")
	v.SetDefault("health.poor_after", "10s")

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("config file not found (%s), using defaults\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
