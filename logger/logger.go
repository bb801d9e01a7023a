// Package logger configures zap logging for tracefield services.
package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a SugaredLogger for the given output mode.
//
// jsonOutput selects JSON structured output for machine consumption;
// otherwise a human-readable console encoder is used. Components receive
// the returned logger through their constructors and derive Named
// subloggers, so there is no package-global state to initialize.
func New(jsonOutput bool) (*zap.SugaredLogger, error) {
	var cfg zap.Config
	if jsonOutput {
		cfg = zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	l, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return l.Sugar(), nil
}

// Nop returns a no-op logger for tests and optional wiring.
func Nop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}
