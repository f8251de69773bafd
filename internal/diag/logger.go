package diag

import (
	"fmt"

	"github.com/emberforge/engine/internal/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the process logger. When cfg.Verbosity lists flags they
// decide which severities are written and cfg.Level is ignored.
func NewLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	verbosity, err := ParseVerbosity(cfg.Verbosity)
	if err != nil {
		return nil, fmt.Errorf("logging.verbosity: %w", err)
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		zapCfg.EncoderConfig.ConsoleSeparator = "  "
		zapCfg.DisableCaller = true
		zapCfg.DisableStacktrace = true
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	var opts []zap.Option
	if verbosity != 0 {
		zapCfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		opts = append(opts, zap.WrapCore(func(c zapcore.Core) zapcore.Core {
			return WithVerbosity(c, verbosity)
		}))
	}

	return zapCfg.Build(opts...)
}
