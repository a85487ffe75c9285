package main

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/langchou/pumpspy/internal/config"
)

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	var logCfg zap.Config
	if cfg.Debug {
		logCfg = zap.NewDevelopmentConfig()
		logCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		logCfg = zap.NewProductionConfig()
		level, err := zap.ParseAtomicLevel(cfg.LogLevel)
		if err != nil {
			return nil, err
		}
		logCfg.Level = level
		logCfg.OutputPaths = []string{"stdout"}
		logCfg.ErrorOutputPaths = []string{"stdout"}
		logCfg.Sampling = nil
	}

	logger, err := logCfg.Build(zap.AddCaller(), zap.AddStacktrace(zap.ErrorLevel))
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}
