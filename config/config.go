// Package config 服务配置：YAML文件 + 环境变量覆盖
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// EnvPrefix 环境变量前缀
const EnvPrefix = "INFERSERVE"

// Config 服务配置
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Model     ModelConfig     `yaml:"model"`
	Explainer ExplainerConfig `yaml:"explainer"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig HTTP服务配置
type ServerConfig struct {
	Port              int           `yaml:"port" envconfig:"PORT"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" envconfig:"READ_HEADER_TIMEOUT"`
	IdleTimeout       time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT"`
	MaxBodyBytes      int64         `yaml:"max_body_bytes" envconfig:"MAX_BODY_BYTES"`
	AllowedOrigins    []string      `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS"`
}

// ModelConfig 模型资源路径
type ModelConfig struct {
	Dir              string `yaml:"dir" envconfig:"DIR"`
	SchemaFile       string `yaml:"schema_file" envconfig:"SCHEMA_FILE"`
	ModelFile        string `yaml:"model_file" envconfig:"MODEL_FILE"`
	PreprocessorFile string `yaml:"preprocessor_file" envconfig:"PREPROCESSOR_FILE"`
	ExplainerFile    string `yaml:"explainer_file" envconfig:"EXPLAINER_FILE"`
}

// ExplainerConfig 解释器运行参数
type ExplainerConfig struct {
	Workers int `yaml:"workers" envconfig:"WORKERS"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `yaml:"level" envconfig:"LEVEL"`
	Dir        string `yaml:"dir" envconfig:"DIR"`
	File       string `yaml:"file" envconfig:"FILE"`
	ErrorFile  string `yaml:"error_file" envconfig:"ERROR_FILE"`
	MaxSizeMB  int    `yaml:"max_size_mb" envconfig:"MAX_SIZE_MB"`
	MaxBackups int    `yaml:"max_backups" envconfig:"MAX_BACKUPS"`
	MaxAgeDays int    `yaml:"max_age_days" envconfig:"MAX_AGE_DAYS"`
	Console    bool   `yaml:"console" envconfig:"CONSOLE"`
}

// Default 默认配置
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:              8080,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       120 * time.Second,
			MaxBodyBytes:      10 << 20,
			AllowedOrigins:    []string{"*"},
		},
		Model: ModelConfig{
			Dir:              "model",
			SchemaFile:       "schema.json",
			ModelFile:        "predictor.json",
			PreprocessorFile: "preprocessor.json",
			ExplainerFile:    "explainer.json",
		},
		Explainer: ExplainerConfig{
			Workers: 4,
		},
		Log: LogConfig{
			Level:      "info",
			Dir:        "logs",
			File:       "serve.log",
			ErrorFile:  "serve.error",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
			Console:    true,
		},
	}
}

// Load 加载配置：默认值 <- YAML文件 <- .env文件 <- 环境变量
func Load(path, envFile string) (*Config, error) {
	config := Default()

	if path != "" {
		file, err := os.Open(path)
		if err != nil {
			return nil, errors.Wrap(err, "open config")
		}
		defer file.Close()
		if err := yaml.NewDecoder(file).Decode(&config); err != nil {
			return nil, errors.Wrap(err, "decode config")
		}
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return nil, errors.Wrap(err, "load env file")
		}
	}
	if err := envconfig.Process(EnvPrefix, &config); err != nil {
		return nil, errors.Wrap(err, "process environment")
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", c.Server.Port)
	}
	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("config: max_body_bytes must be positive")
	}
	if c.Model.SchemaFile == "" || c.Model.ModelFile == "" || c.Model.ExplainerFile == "" {
		return fmt.Errorf("config: schema_file, model_file and explainer_file are required")
	}
	if c.Explainer.Workers <= 0 {
		return fmt.Errorf("config: explainer workers must be positive")
	}
	if c.Log.File == "" || c.Log.ErrorFile == "" {
		return fmt.Errorf("config: log file and error file are required")
	}
	return nil
}

func (m ModelConfig) path(name string) string {
	if name == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(m.Dir, name)
}

// SchemaPath 数据模式文件路径
func (m ModelConfig) SchemaPath() string { return m.path(m.SchemaFile) }

// ModelPath 预测模型文件路径
func (m ModelConfig) ModelPath() string { return m.path(m.ModelFile) }

// PreprocessorPath 预处理参数路径，未配置时为空
func (m ModelConfig) PreprocessorPath() string { return m.path(m.PreprocessorFile) }

// ExplainerPath 解释器文件路径
func (m ModelConfig) ExplainerPath() string { return m.path(m.ExplainerFile) }

// FilePath 通用日志文件路径
func (l LogConfig) FilePath() string { return filepath.Join(l.Dir, l.File) }

// ErrorFilePath 错误日志文件路径
func (l LogConfig) ErrorFilePath() string { return filepath.Join(l.Dir, l.ErrorFile) }
