package log

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the process logger. Level comes from LOCALRAG_LOG_LEVEL
// (debug|info|warn|error, default info); output is a console encoder on
// stderr so the desktop shell can capture one readable stream.
func New() *zap.Logger {
	level := zapcore.InfoLevel
	if v := strings.ToLower(os.Getenv("LOCALRAG_LOG_LEVEL")); v != "" {
		if l, err := zapcore.ParseLevel(v); err == nil {
			level = l
		}
	}
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.Lock(os.Stderr),
		level,
	)
	return zap.New(core, zap.AddCaller())
}

// Nop returns a logger that discards everything. Used in tests.
func Nop() *zap.Logger { return zap.NewNop() }
