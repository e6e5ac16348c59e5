package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var level = zap.NewAtomicLevelAt(zapcore.InfoLevel)

// Init builds the global logger for the given environment. Code logs through
// zap.L() afterwards.
func Init(environment string) error {
	conf := zap.NewDevelopmentConfig()
	if environment == "production" {
		conf = zap.NewProductionConfig()
	}
	conf.Level = level

	l, err := conf.Build()
	if err != nil {
		return fmt.Errorf("conf.Build -> %w", err)
	}

	zap.ReplaceGlobals(l)

	return nil
}

// SetLevel changes the level of the global logger without rebuilding it.
func SetLevel(text string) error {
	if text == "" {
		return nil
	}

	var l zapcore.Level
	if err := l.UnmarshalText([]byte(text)); err != nil {
		return err
	}
	level.SetLevel(l)

	return nil
}

func Level() zapcore.Level {
	return level.Level()
}
