package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Download DownloadConfig `mapstructure:"download" yaml:"download"`
	Mux      MuxConfig      `mapstructure:"mux" yaml:"mux"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
	History  HistoryConfig  `mapstructure:"history" yaml:"history"`

	Port string `mapstructure:"port" yaml:"port"`
}

type DownloadConfig struct {
	WorkDir     string `mapstructure:"work_dir" yaml:"work_dir"`
	Concurrency int    `mapstructure:"concurrency" yaml:"concurrency"`
	// Overall per-request deadline in seconds.
	TimeoutSeconds int `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
	// Total fetch attempts per segment. 1 disables retries.
	Attempts    int    `mapstructure:"attempts" yaml:"attempts"`
	KeepWorkDir bool   `mapstructure:"keep_work_dir" yaml:"keep_work_dir"`
	FileList    string `mapstructure:"file_list" yaml:"file_list"`
	UserAgent   string `mapstructure:"user_agent" yaml:"user_agent"`
}

type MuxConfig struct {
	FFmpegPath string `mapstructure:"ffmpeg_path" yaml:"ffmpeg_path"`
}

type LogConfig struct {
	Path          string `mapstructure:"path" yaml:"path"`
	Level         string `mapstructure:"level" yaml:"level"`
	IncludeStdout bool   `mapstructure:"include_stdout" yaml:"include_stdout"`
}

type HistoryConfig struct {
	SQLitePath string `mapstructure:"sqlite_path" yaml:"sqlite_path"`
}

// Load reads the optional YAML config at path. A missing default config is
// fine (everything has a default); an explicitly requested file that does
// not exist is an error.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if path == "" {
		path = "config.yaml"
	}

	v := viper.New()

	// Set Defaults
	v.SetDefault("port", "8080")
	v.SetDefault("download.work_dir", "./hlsget-work")
	v.SetDefault("download.concurrency", 10)
	v.SetDefault("download.timeout_seconds", 60)
	v.SetDefault("download.attempts", 3)
	v.SetDefault("download.keep_work_dir", false)
	v.SetDefault("download.file_list", "file_list.txt")
	v.SetDefault("download.user_agent", "")
	v.SetDefault("mux.ffmpeg_path", "ffmpeg")
	v.SetDefault("log.path", "hlsget.log")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.include_stdout", false)
	v.SetDefault("history.sqlite_path", "hlsget.db")

	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", path, err)
		}
	} else if explicit {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	// Support Environment Variables (HLSGET_DOWNLOAD_CONCURRENCY etc.)
	v.SetEnvPrefix("HLSGET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.validate()

	return &cfg, nil
}

// validate normalizes out-of-range values back to sane defaults.
func (c *Config) validate() {
	if c.Download.Concurrency <= 0 {
		c.Download.Concurrency = 10
	}
	if c.Download.TimeoutSeconds <= 0 {
		c.Download.TimeoutSeconds = 60
	}
	if c.Download.Attempts < 1 {
		c.Download.Attempts = 1
	}
	if c.Download.WorkDir == "" {
		c.Download.WorkDir = "./hlsget-work"
	}
	if c.Download.FileList == "" {
		c.Download.FileList = "file_list.txt"
	}
	if c.Mux.FFmpegPath == "" {
		c.Mux.FFmpegPath = "ffmpeg"
	}
	if c.Port == "" {
		c.Port = "8080"
	}
}
