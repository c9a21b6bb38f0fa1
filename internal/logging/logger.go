// Package logging builds the zap sink and the correlation-aware emitter
// that stamps every record with the identifiers of the current scope.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"

	"github.com/zulandar/consortium/internal/config"
)

// NewLogger builds a zap logger writing to w at the configured level and
// format. Format "auto" picks the console encoder when w is a terminal.
// A nil w writes to stderr.
func NewLogger(cfg config.LoggingConfig, w io.Writer) (*zap.Logger, error) {
	if w == nil {
		w = os.Stderr
	}
	level, err := zapcore.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		return nil, fmt.Errorf("logging: level %q: %w", cfg.Level, err)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "timestamp"
	encCfg.MessageKey = "message"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var enc zapcore.Encoder
	switch resolveFormat(cfg.Format, w) {
	case "json":
		enc = zapcore.NewJSONEncoder(encCfg)
	case "console":
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	default:
		return nil, fmt.Errorf("logging: unknown format %q", cfg.Format)
	}

	core := zapcore.NewCore(enc, zapcore.AddSync(w), level)
	return zap.New(core, zap.ErrorOutput(zapcore.AddSync(io.Discard))).Named("llm_consortium"), nil
}

func resolveFormat(format string, w io.Writer) string {
	switch format {
	case "", "auto":
		if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
			return "console"
		}
		return "json"
	default:
		return format
	}
}
