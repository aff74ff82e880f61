// Package logging builds the zap logger from configuration.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/imzaci/imzala/config"
)

// New builds a console logger for the "text" format and a JSON logger
// otherwise. Output is stdout, stderr or a file path.
func New(cfg config.LoggingConfig) (*zap.Logger, error) {
	cfg.SetDefaults()

	var zapConfig zap.Config
	if cfg.Format == "json" {
		zapConfig = zap.NewProductionConfig()
	} else {
		zapConfig = zap.NewDevelopmentConfig()
		zapConfig.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		zapConfig.Development = false
	}

	zapConfig.Level = zap.NewAtomicLevelAt(ParseLevel(cfg.Level))
	zapConfig.OutputPaths = []string{cfg.Output}
	zapConfig.ErrorOutputPaths = []string{"stderr"}

	return zapConfig.Build()
}

// ParseLevel maps a level name to a zap level. Unknown names are info.
func ParseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
