package main

import (
	"os"

	"github.com/fansqz/ether-debugger/config"
	"github.com/sirupsen/logrus"
)

var logFile *os.File

// SetupLogger 按配置设置日志级别和输出文件，文件不存在时创建
func SetupLogger(cfg *config.LoggingConfig) {
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		logrus.Warnf("[Logger] unknown level %q, use info", cfg.Level)
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	if cfg.File == "" {
		return
	}
	logFile, err = os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		logrus.Warnf("[Logger] open log file %s fail, err = %v", cfg.File, err)
		return
	}
	logrus.SetOutput(logFile)
}

func CloseLogger() {
	if logFile != nil {
		_ = logFile.Close()
	}
}
