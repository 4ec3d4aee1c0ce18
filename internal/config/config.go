package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/menta2k/paddy-monitor/pkg/analyzer"
	"github.com/menta2k/paddy-monitor/pkg/assessment"
)

// EnvPrefix prefixes every environment override, e.g. PADDY_DATABASE_DSN
const EnvPrefix = "PADDY"

// Config holds the application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server" json:"server" yaml:"server"`
	Database DatabaseConfig `mapstructure:"database" json:"database" yaml:"database"`
	Storage  StorageConfig  `mapstructure:"storage" json:"storage" yaml:"storage"`
	Queue    QueueConfig    `mapstructure:"queue" json:"queue" yaml:"queue"`
	Vision   VisionConfig   `mapstructure:"vision" json:"vision" yaml:"vision"`
	Analyzer AnalyzerConfig `mapstructure:"analyzer" json:"analyzer" yaml:"analyzer"`
	Log      LogConfig      `mapstructure:"log" json:"log" yaml:"log"`
}

// ServerConfig holds the HTTP API settings
type ServerConfig struct {
	Addr            string        `mapstructure:"addr" json:"addr" yaml:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" json:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// DatabaseConfig selects the result store backend
type DatabaseConfig struct {
	Driver string `mapstructure:"driver" json:"driver" yaml:"driver"` // sqlite or postgres
	DSN    string `mapstructure:"dsn" json:"dsn" yaml:"dsn"`
	Debug  bool   `mapstructure:"debug" json:"debug" yaml:"debug"`
}

// StorageConfig holds where uploaded photos are kept
type StorageConfig struct {
	UploadDir   string `mapstructure:"upload_dir" json:"upload_dir" yaml:"upload_dir"`
	MaxUploadMB int    `mapstructure:"max_upload_mb" json:"max_upload_mb" yaml:"max_upload_mb"`
}

// QueueConfig holds the analysis job queue and worker settings
type QueueConfig struct {
	Concurrency    int           `mapstructure:"concurrency" json:"concurrency" yaml:"concurrency"`
	PollInterval   time.Duration `mapstructure:"poll_interval" json:"poll_interval" yaml:"poll_interval"`
	MaxAttempts    int           `mapstructure:"max_attempts" json:"max_attempts" yaml:"max_attempts"`
	RetryDelay     time.Duration `mapstructure:"retry_delay" json:"retry_delay" yaml:"retry_delay"`
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout" json:"attempt_timeout" yaml:"attempt_timeout"`
	StaleAfter     time.Duration `mapstructure:"stale_after" json:"stale_after" yaml:"stale_after"`
}

// VisionConfig holds the vision model backend settings
type VisionConfig struct {
	Provider          string        `mapstructure:"provider" json:"provider" yaml:"provider"` // ollama or openai
	URL               string        `mapstructure:"url" json:"url" yaml:"url"`
	ChatPath          string        `mapstructure:"chat_path" json:"chat_path" yaml:"chat_path"`
	APIKey            string        `mapstructure:"api_key" json:"api_key" yaml:"api_key"`
	Model             string        `mapstructure:"model" json:"model" yaml:"model"`
	ImageFormat       string        `mapstructure:"image_format" json:"image_format" yaml:"image_format"`
	MaxImageDim       int           `mapstructure:"max_image_dim" json:"max_image_dim" yaml:"max_image_dim"`
	Quality           int           `mapstructure:"quality" json:"quality" yaml:"quality"`
	Temperature       float64       `mapstructure:"temperature" json:"temperature" yaml:"temperature"`
	Timeout           time.Duration `mapstructure:"timeout" json:"timeout" yaml:"timeout"`
	RequestsPerMinute float64       `mapstructure:"requests_per_minute" json:"requests_per_minute" yaml:"requests_per_minute"`
}

// AnalyzerConfig holds the computer-vision thresholds
type AnalyzerConfig struct {
	MinImageSize        int     `mapstructure:"min_image_size" json:"min_image_size" yaml:"min_image_size"`
	ExGThreshold        int     `mapstructure:"exg_threshold" json:"exg_threshold" yaml:"exg_threshold"`
	GridSize            int     `mapstructure:"grid_size" json:"grid_size" yaml:"grid_size"`
	WhiteThreshold      int     `mapstructure:"white_threshold" json:"white_threshold" yaml:"white_threshold"`
	MinBoardArea        int     `mapstructure:"min_board_area" json:"min_board_area" yaml:"min_board_area"`
	BoardHeightCM       float64 `mapstructure:"board_height_cm" json:"board_height_cm" yaml:"board_height_cm"`
	PlantGrayThreshold  int     `mapstructure:"plant_gray_threshold" json:"plant_gray_threshold" yaml:"plant_gray_threshold"`
	KernelSize          int     `mapstructure:"kernel_size" json:"kernel_size" yaml:"kernel_size"`
	MinPlantArea        int     `mapstructure:"min_plant_area" json:"min_plant_area" yaml:"min_plant_area"`
	MinPeakDistanceFrac float64 `mapstructure:"min_peak_distance_frac" json:"min_peak_distance_frac" yaml:"min_peak_distance_frac"`
}

// LogConfig holds logger settings
type LogConfig struct {
	Level string `mapstructure:"level" json:"level" yaml:"level"`
	JSON  bool   `mapstructure:"json" json:"json" yaml:"json"`
}

// Default returns a configuration with default values
func Default() *Config {
	ac := analyzer.DefaultConfig()
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "paddy.db",
		},
		Storage: StorageConfig{
			UploadDir:   "./uploads",
			MaxUploadMB: 64,
		},
		Queue: QueueConfig{
			Concurrency:    2,
			PollInterval:   2 * time.Second,
			MaxAttempts:    3,
			RetryDelay:     5 * time.Minute,
			AttemptTimeout: 10 * time.Minute,
			StaleAfter:     30 * time.Minute,
		},
		Vision: VisionConfig{
			Provider:    "ollama",
			URL:         "http://localhost:11434",
			Model:       "qwen2.5vl:7b",
			ImageFormat: "jpg",
			MaxImageDim: 1024,
			Quality:     85,
			Temperature: 0.2,
			Timeout:     3 * time.Minute,
		},
		Analyzer: AnalyzerConfig{
			MinImageSize:        ac.MinImageSize,
			ExGThreshold:        ac.ExGThreshold,
			GridSize:            ac.GridSize,
			WhiteThreshold:      int(ac.WhiteThreshold),
			MinBoardArea:        ac.MinBoardArea,
			BoardHeightCM:       ac.BoardHeightCM,
			PlantGrayThreshold:  int(ac.PlantGrayThreshold),
			KernelSize:          ac.KernelSize,
			MinPlantArea:        ac.MinPlantArea,
			MinPeakDistanceFrac: ac.MinPeakDistanceFrac,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load builds the configuration from defaults, an optional YAML/JSON file,
// a .env file in the working directory and PADDY_* environment variables,
// in increasing order of precedence.
func Load(filename string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	defaults, err := yaml.Marshal(Default())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal defaults: %w", err)
	}
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return nil, fmt.Errorf("failed to read defaults: %w", err)
	}

	if filename != "" {
		v.SetConfigFile(filename)
		if ext := strings.TrimPrefix(filepath.Ext(filename), "."); ext != "" {
			v.SetConfigType(ext)
		}
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// LoadFromFile loads configuration from a YAML or JSON file without env overrides
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if strings.EqualFold(filepath.Ext(filename), ".json") {
		err = json.Unmarshal(data, config)
	} else {
		err = yaml.Unmarshal(data, config)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return config, nil
}

// SaveToFile saves configuration as JSON or YAML depending on the extension
func (c *Config) SaveToFile(filename string) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if strings.EqualFold(filepath.Ext(filename), ".json") {
		data, err = json.MarshalIndent(c, "", "  ")
	} else {
		data, err = yaml.Marshal(c)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("database.driver must be sqlite or postgres, got %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn cannot be empty")
	}

	if c.Storage.UploadDir == "" {
		return fmt.Errorf("storage.upload_dir cannot be empty")
	}
	if c.Storage.MaxUploadMB < 1 {
		return fmt.Errorf("storage.max_upload_mb must be positive")
	}

	if c.Queue.Concurrency < 1 {
		return fmt.Errorf("queue.concurrency must be positive")
	}
	if c.Queue.MaxAttempts < 1 {
		return fmt.Errorf("queue.max_attempts must be at least 1")
	}
	if c.Queue.PollInterval <= 0 || c.Queue.AttemptTimeout <= 0 || c.Queue.StaleAfter <= 0 {
		return fmt.Errorf("queue.poll_interval, attempt_timeout and stale_after must be positive")
	}
	if c.Queue.RetryDelay < 0 {
		return fmt.Errorf("queue.retry_delay cannot be negative")
	}
	if c.Queue.StaleAfter <= c.Queue.AttemptTimeout {
		return fmt.Errorf("queue.stale_after must exceed queue.attempt_timeout")
	}

	switch c.Vision.Provider {
	case "ollama", "openai":
	default:
		return fmt.Errorf("vision.provider must be ollama or openai, got %q", c.Vision.Provider)
	}
	if c.Vision.Model == "" {
		return fmt.Errorf("vision.model cannot be empty")
	}
	if c.Vision.Quality < 1 || c.Vision.Quality > 100 {
		return fmt.Errorf("vision.quality must be between 1 and 100")
	}
	if c.Vision.Temperature < 0 || c.Vision.Temperature > 2 {
		return fmt.Errorf("vision.temperature must be between 0 and 2")
	}
	if c.Vision.RequestsPerMinute < 0 {
		return fmt.Errorf("vision.requests_per_minute cannot be negative")
	}

	a := c.Analyzer
	if a.GridSize < 1 {
		return fmt.Errorf("analyzer.grid_size must be positive")
	}
	if a.WhiteThreshold < 0 || a.WhiteThreshold > 255 || a.PlantGrayThreshold < 0 || a.PlantGrayThreshold > 255 {
		return fmt.Errorf("analyzer thresholds must be between 0 and 255")
	}
	if a.BoardHeightCM <= 0 {
		return fmt.Errorf("analyzer.board_height_cm must be positive")
	}
	if a.MinPeakDistanceFrac < 0 || a.MinPeakDistanceFrac > 1 {
		return fmt.Errorf("analyzer.min_peak_distance_frac must be between 0 and 1")
	}

	return nil
}

// AnalyzerSettings converts the analyzer section into analyzer.Config
func (c *Config) AnalyzerSettings() analyzer.Config {
	ac := analyzer.DefaultConfig()
	ac.MinImageSize = c.Analyzer.MinImageSize
	ac.ExGThreshold = c.Analyzer.ExGThreshold
	ac.GridSize = c.Analyzer.GridSize
	ac.WhiteThreshold = uint8(c.Analyzer.WhiteThreshold)
	ac.MinBoardArea = c.Analyzer.MinBoardArea
	ac.BoardHeightCM = c.Analyzer.BoardHeightCM
	ac.PlantGrayThreshold = uint8(c.Analyzer.PlantGrayThreshold)
	ac.KernelSize = c.Analyzer.KernelSize
	ac.MinPlantArea = c.Analyzer.MinPlantArea
	ac.MinPeakDistanceFrac = c.Analyzer.MinPeakDistanceFrac
	return ac
}

// AssessmentSettings converts the vision section into assessment.Config
func (c *Config) AssessmentSettings() assessment.Config {
	return assessment.Config{
		Model:             c.Vision.Model,
		Prompt:            assessment.DefaultPrompt,
		ImageFormat:       c.Vision.ImageFormat,
		MaxImageDim:       c.Vision.MaxImageDim,
		Quality:           c.Vision.Quality,
		Timeout:           c.Vision.Timeout,
		RequestsPerMinute: c.Vision.RequestsPerMinute,
	}
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.yaml"
	}
	return filepath.Join(home, ".config", "paddy-monitor", "config.yaml")
}
