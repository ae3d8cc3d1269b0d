package pal

import (
	"net"
	"net/url"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
	"mvdan.cc/sh/v3/shell"

	defaults "github.com/Paranoid-AF/pal/default"
)

// DefaultConfigPath is used when neither --config nor $PAL_CONFIG is given.
const DefaultConfigPath = "config/config.yaml"

// Config is the typed view of the configuration tree.
type Config struct {
	Model     ModelConfig     `yaml:"model" json:"model"`
	Training  TrainingConfig  `yaml:"training" json:"training"`
	Data      DataConfig      `yaml:"data" json:"data"`
	Inference InferenceConfig `yaml:"inference" json:"inference"`
	Paths     PathsConfig     `yaml:"paths" json:"paths"`
	API       APIConfig       `yaml:"api" json:"api"`
	Logging   LoggingConfig   `yaml:"logging" json:"logging"`
	Privacy   PrivacyConfig   `yaml:"privacy" json:"privacy"`
}

// ModelConfig selects the model and the backend that serves it.
type ModelConfig struct {
	Name           string  `yaml:"name" json:"name"`
	Architecture   string  `yaml:"architecture" json:"architecture"`
	MaxLength      int     `yaml:"max_length" json:"max_length"`
	Temperature    float64 `yaml:"temperature" json:"temperature"`
	TopP           float64 `yaml:"top_p" json:"top_p"`
	Device         string  `yaml:"device" json:"device"`
	Provider       string  `yaml:"provider" json:"provider"`
	BaseURL        string  `yaml:"base_url" json:"base_url"`
	APIKey         string  `yaml:"api_key" json:"api_key"`
	APIType        string  `yaml:"api_type" json:"api_type"`
	RequestTimeout string  `yaml:"request_timeout" json:"request_timeout"`
}

// TrainingConfig is carried for tooling that fine-tunes the model.
type TrainingConfig struct {
	BatchSize             int     `yaml:"batch_size" json:"batch_size"`
	LearningRate          float64 `yaml:"learning_rate" json:"learning_rate"`
	NumEpochs             int     `yaml:"num_epochs" json:"num_epochs"`
	WarmupSteps           int     `yaml:"warmup_steps" json:"warmup_steps"`
	GradientCheckpointing bool    `yaml:"gradient_checkpointing" json:"gradient_checkpointing"`
	MixedPrecision        bool    `yaml:"mixed_precision" json:"mixed_precision"`
}

// DataConfig is carried for dataset tooling.
type DataConfig struct {
	MaxSamples      int                 `yaml:"max_samples" json:"max_samples"`
	ValidationSplit float64             `yaml:"validation_split" json:"validation_split"`
	Preprocessing   PreprocessingConfig `yaml:"preprocessing" json:"preprocessing"`
}

// PreprocessingConfig holds text normalization switches for datasets.
type PreprocessingConfig struct {
	Lowercase          bool `yaml:"lowercase" json:"lowercase"`
	RemoveSpecialChars bool `yaml:"remove_special_chars" json:"remove_special_chars"`
	MaxTokenLength     int  `yaml:"max_token_length" json:"max_token_length"`
}

// InferenceConfig holds generation settings.
type InferenceConfig struct {
	BatchSize     int  `yaml:"batch_size" json:"batch_size"`
	BeamSize      int  `yaml:"beam_size" json:"beam_size"`
	MaxNewTokens  int  `yaml:"max_new_tokens" json:"max_new_tokens"`
	DoSample      bool `yaml:"do_sample" json:"do_sample"`
	EarlyStopping bool `yaml:"early_stopping" json:"early_stopping"`
}

// PathsConfig holds working directories. Values may reference environment
// variables ($HOME, ${XDG_DATA_HOME}).
type PathsConfig struct {
	DataDir  string `yaml:"data_dir" json:"data_dir"`
	ModelDir string `yaml:"model_dir" json:"model_dir"`
	LogsDir  string `yaml:"logs_dir" json:"logs_dir"`
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`
}

// APIConfig holds HTTP server settings.
type APIConfig struct {
	Host        string   `yaml:"host" json:"host"`
	Port        int      `yaml:"port" json:"port"`
	CORSOrigins []string `yaml:"cors_origins" json:"cors_origins"`
}

// LoggingConfig holds log level, console format and file rotation spans.
type LoggingConfig struct {
	Level         string `yaml:"level" json:"level"`
	Format        string `yaml:"format" json:"format"`
	FileRotation  string `yaml:"file_rotation" json:"file_rotation"`
	FileRetention string `yaml:"file_retention" json:"file_retention"`
}

// PrivacyConfig holds data-handling switches.
type PrivacyConfig struct {
	LocalProcessing bool `yaml:"local_processing" json:"local_processing"`
	DataEncryption  bool `yaml:"data_encryption" json:"data_encryption"`
	AnonymizeLogs   bool `yaml:"anonymize_logs" json:"anonymize_logs"`
	RetentionDays   int  `yaml:"retention_days" json:"retention_days"`
}

// ConfigPath returns the configuration file path.
// Resolution order: $PAL_CONFIG > config/config.yaml
func ConfigPath() string {
	if path := os.Getenv("PAL_CONFIG"); path != "" {
		return path
	}
	return DefaultConfigPath
}

// DefaultTree returns a fresh copy of the embedded default configuration tree.
func DefaultTree() map[string]any {
	var tree map[string]any
	if err := yaml.Unmarshal(defaults.DefaultConfigYAML, &tree); err != nil {
		panic("pal: invalid embedded default_config.yaml: " + err.Error())
	}
	return tree
}

// DefaultConfig returns the typed default configuration.
func DefaultConfig() *Config {
	var cfg Config
	if err := yaml.Unmarshal(defaults.DefaultConfigYAML, &cfg); err != nil {
		panic("pal: invalid embedded default_config.yaml: " + err.Error())
	}
	return &cfg
}

// decodeConfig builds a typed Config from a tree. Keys missing from the tree
// keep their default values.
func decodeConfig(tree map[string]any) (*Config, error) {
	data, err := yaml.Marshal(tree)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if err := expandPaths(&cfg.Paths); err != nil {
		return nil, err
	}
	return cfg, nil
}

// expandPaths applies shell parameter expansion to every path.
func expandPaths(p *PathsConfig) error {
	for _, field := range []*string{&p.DataDir, &p.ModelDir, &p.LogsDir, &p.CacheDir} {
		expanded, err := shell.Expand(*field, nil)
		if err != nil {
			return err
		}
		*field = expanded
	}
	return nil
}

// Timeout returns model.request_timeout, or 60s when unset or invalid.
func (c *ModelConfig) Timeout() time.Duration {
	d, err := time.ParseDuration(c.RequestTimeout)
	if err != nil || d <= 0 {
		return 60 * time.Second
	}
	return d
}

// ValidateConfig checks configuration for potential issues and returns warnings.
// Hard violations are reported by Manager.Validate.
func ValidateConfig(cfg *Config) []string {
	var warnings []string
	if cfg == nil {
		return warnings
	}
	if cfg.Privacy.LocalProcessing && !isLoopbackURL(ResolveModelBaseURL(cfg)) {
		warnings = append(warnings, "privacy.local_processing is enabled but model.base_url points to a remote host")
	}
	if !cfg.Inference.DoSample && cfg.Model.Temperature != DefaultConfig().Model.Temperature {
		warnings = append(warnings, "inference.do_sample is disabled; model.temperature has no effect")
	}
	return warnings
}

func isLoopbackURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return false
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// ResolveModelName returns the model name.
// Priority: $PAL_MODEL_NAME env > config value.
func ResolveModelName(cfg *Config) string {
	if name := os.Getenv("PAL_MODEL_NAME"); name != "" {
		return name
	}
	if cfg != nil {
		return cfg.Model.Name
	}
	return ""
}

// ResolveModelBaseURL returns the inference backend base URL.
// Priority: $PAL_MODEL_BASE_URL env > config value.
func ResolveModelBaseURL(cfg *Config) string {
	if u := os.Getenv("PAL_MODEL_BASE_URL"); u != "" {
		return u
	}
	if cfg != nil {
		return cfg.Model.BaseURL
	}
	return ""
}

// ResolveModelAPIKey returns the inference backend API key.
// Priority: $PAL_MODEL_API_KEY env > config value.
func ResolveModelAPIKey(cfg *Config) string {
	if key := os.Getenv("PAL_MODEL_API_KEY"); key != "" {
		return key
	}
	if cfg != nil {
		return cfg.Model.APIKey
	}
	return ""
}

// ResolveAPIHost returns the HTTP listen host.
// Priority: $PAL_API_HOST env > config value.
func ResolveAPIHost(cfg *Config) string {
	if host := os.Getenv("PAL_API_HOST"); host != "" {
		return host
	}
	if cfg != nil {
		return cfg.API.Host
	}
	return ""
}

// ResolveAPIPort returns the HTTP listen port.
// Priority: $PAL_API_PORT env (when numeric) > config value.
func ResolveAPIPort(cfg *Config) int {
	if raw := os.Getenv("PAL_API_PORT"); raw != "" {
		if port, err := strconv.Atoi(raw); err == nil {
			return port
		}
	}
	if cfg != nil {
		return cfg.API.Port
	}
	return 0
}
