// Package logging configures the process-wide zerolog logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"path"
	"runtime"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

var (
	mu  sync.RWMutex
	log = zerolog.New(os.Stderr).With().Timestamp().Logger()
)

func init() {
	setCallerFormatter()

	// Use GCP cloud logging naming
	zerolog.LevelFieldName = "severity"
	zerolog.LevelFieldMarshalFunc = func(l zerolog.Level) string {
		switch l {
		case zerolog.TraceLevel:
			return "DEFAULT"
		case zerolog.DebugLevel:
			return "DEBUG"
		case zerolog.InfoLevel:
			return "INFO"
		case zerolog.NoLevel:
			return "NOTICE"
		case zerolog.WarnLevel:
			return "WARN"
		case zerolog.ErrorLevel:
			return "ERROR"
		case zerolog.PanicLevel:
			return "CRITICAL"
		case zerolog.FatalLevel:
			return "EMERGENCY"
		default:
			return "DEFAULT"
		}
	}
}

// setCallerFormatter trims caller paths to be relative to the module root.
func setCallerFormatter() {
	_, file, _, _ := runtime.Caller(0)
	prefix := path.Dir(path.Dir(path.Dir(file)))
	if len(prefix) > 0 && prefix[len(prefix)-1] != '/' {
		prefix += "/"
	}

	zerolog.CallerMarshalFunc = func(_ uintptr, file string, line int) string {
		if i := strings.Index(file, prefix); i > -1 {
			file = file[i+len(prefix):]
		}
		return fmt.Sprintf("%s:%d", file, line)
	}
}

// Setup replaces the global logger. format is "console" or "json".
func Setup(level, format string, out io.Writer) error {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return fmt.Errorf("parse log level %q: %w", level, err)
	}
	if lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	if out == nil {
		out = os.Stderr
	}

	switch format {
	case "console", "":
		out = zerolog.NewConsoleWriter(func(w *zerolog.ConsoleWriter) {
			w.Out = out
			w.TimeFormat = "15:04:05.000"
		})
	case "json":
	default:
		return fmt.Errorf("unknown log format %q", format)
	}

	l := zerolog.New(out).Level(lvl).With().Timestamp().Caller().Logger()

	mu.Lock()
	log = l
	mu.Unlock()
	return nil
}

// Log returns the global logger.
func Log() *zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	l := log
	return &l
}

// Writer exposes the global logger as an io.Writer at info level, for
// libraries that only accept a writer.
func Writer() io.Writer {
	return levelWriter{}
}

type levelWriter struct{}

func (levelWriter) Write(p []byte) (int, error) {
	Log().Info().Msg(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}
