// Package logging is a thin wrapper of zap logging library.
//
// Each package creates its own named logger once:
//
//	var logger = logging.New("server")
//
// The level of a package is read from NOCRPC_LOG_<pkg>, falling back to NOCRPC_LOG.
// Only the first letter matters: V/D=debug, I=info, W=warn, E=error, F/N=fatal only.
package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var root = func() *zap.Logger {
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
		os.Stderr,
		zap.DebugLevel,
	)
	return zap.New(core)
}()

// New creates a logger named after a package.
func New(pkg string) *zap.Logger {
	return root.Named(pkg).
		WithOptions(zap.IncreaseLevel(zap.NewAtomicLevelAt(parseLevel(pkg))))
}

// GetLevel returns configured log level of a package as a letter, or 0 if unset.
func GetLevel(pkg string) rune {
	lvl, ok := os.LookupEnv("NOCRPC_LOG_" + pkg)
	if !ok {
		lvl, ok = os.LookupEnv("NOCRPC_LOG")
	}
	if !ok || len(lvl) == 0 {
		return 0
	}
	return rune(lvl[0])
}

func parseLevel(pkg string) zapcore.Level {
	switch GetLevel(pkg) {
	case 'V', 'D':
		return zapcore.DebugLevel
	case 'I':
		return zapcore.InfoLevel
	case 'W':
		return zapcore.WarnLevel
	case 'E':
		return zapcore.ErrorLevel
	case 'F', 'N':
		return zapcore.DPanicLevel
	}
	return zapcore.InfoLevel
}
