package adapter

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Playback PlaybackConfig `mapstructure:"playback"`
	Transfer TransferConfig `mapstructure:"transfer"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig holds media server configuration
type ServerConfig struct {
	URL   string `mapstructure:"url"`   // Server URL
	Token string `mapstructure:"token"` // API token
}

// StorageConfig holds local storage locations
type StorageConfig struct {
	DataDir  string `mapstructure:"data_dir"`  // Durable store location
	AudioDir string `mapstructure:"audio_dir"` // Stable track payload storage
	TempDir  string `mapstructure:"temp_dir"`  // In-flight transfer scratch space
}

// PlaybackConfig holds playback reporting configuration
type PlaybackConfig struct {
	ReportInterval time.Duration `mapstructure:"report_interval"`
}

// TransferConfig holds transfer queue configuration
type TransferConfig struct {
	Concurrency int           `mapstructure:"concurrency"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	File  string `mapstructure:"file"`
	Level string `mapstructure:"level"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	dataDir := defaultDataPath()
	return &Config{
		Server: ServerConfig{
			URL:   "",
			Token: "",
		},
		Storage: StorageConfig{
			DataDir:  dataDir,
			AudioDir: filepath.Join(dataDir, "audio"),
			TempDir:  filepath.Join(dataDir, "tmp"),
		},
		Playback: PlaybackConfig{
			ReportInterval: 15 * time.Second,
		},
		Transfer: TransferConfig{
			Concurrency: 3,
			Timeout:     10 * time.Minute,
		},
		Logging: LoggingConfig{
			File:  filepath.Join(dataDir, "earmark.log"),
			Level: "INFO",
		},
	}
}

// defaultDataPath returns the default data directory for the current OS
func defaultDataPath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("LOCALAPPDATA"), "earmark")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".local", "share", "earmark")
	}
}

// defaultConfigPath returns the default config file path for the current OS
func defaultConfigPath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "earmark")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", "earmark")
	}
}

// LoadConfig loads configuration from file and environment
func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(defaultConfigPath())
	viper.AddConfigPath(".")

	// Environment variable overrides
	viper.SetEnvPrefix("EARMARK")
	viper.AutomaticEnv()

	// Read config file if it exists
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, use defaults
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the current configuration to file
func SaveConfig(cfg *Config) error {
	configPath := defaultConfigPath()

	if err := os.MkdirAll(configPath, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Set fields individually to ensure correct key names (snake_case)
	viper.Set("server.url", cfg.Server.URL)
	viper.Set("server.token", cfg.Server.Token)

	viper.Set("storage.data_dir", cfg.Storage.DataDir)
	viper.Set("storage.audio_dir", cfg.Storage.AudioDir)
	viper.Set("storage.temp_dir", cfg.Storage.TempDir)

	viper.Set("playback.report_interval", cfg.Playback.ReportInterval)

	viper.Set("transfer.concurrency", cfg.Transfer.Concurrency)
	viper.Set("transfer.timeout", cfg.Transfer.Timeout)

	viper.Set("logging.file", cfg.Logging.File)
	viper.Set("logging.level", cfg.Logging.Level)

	configFile := filepath.Join(configPath, "config.yaml")
	if err := viper.WriteConfigAs(configFile); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// IsConfigured returns true if the server URL and token are set
func (c *Config) IsConfigured() bool {
	return c.Server.URL != "" && c.Server.Token != ""
}
