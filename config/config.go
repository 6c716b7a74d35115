package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Debugger DebuggerConfig `yaml:"debugger"`
	Session  SessionConfig  `yaml:"session"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// DebuggerConfig 调试子进程
type DebuggerConfig struct {
	// Path 调试子进程的可执行文件或者脚本
	Path string   `yaml:"path"`
	Args []string `yaml:"args"`
	// ReadyTimeout 等待ready握手的最长时间
	ReadyTimeout  time.Duration `yaml:"ready_timeout"`
	StopOnEntry   bool          `yaml:"stop_on_entry"`
	DiagnosticTTY bool          `yaml:"diagnostic_tty"`
}

type SessionConfig struct {
	// IdleTimeout 会话在没有请求的情况下保持的时间
	IdleTimeout time.Duration `yaml:"idle_timeout"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	// File 为空时输出到标准输出
	File string `yaml:"file"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr: ":5001",
		},
		Debugger: DebuggerConfig{
			Path:         "node",
			Args:         []string{"ethdbg/index.js"},
			ReadyTimeout: 30 * time.Second,
		},
		Session: SessionConfig{
			IdleTimeout: 30 * time.Minute,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load config from yml
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}
