// Package logger wraps logrus with the component-tagged defaults used across
// the staking ledger.
package logger

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// LoggingConfig controls how a Logger is built.
type LoggingConfig struct {
	Level      string // debug, info, warn, error
	Format     string // text or json
	Output     string // stdout, stderr or file
	FilePrefix string // used when Output is "file"
}

// Logger is a logrus logger bound to a component name.
type Logger struct {
	*logrus.Logger
	component string
}

// New builds a logger from cfg. Invalid values fall back to info/text/stdout.
func New(cfg LoggingConfig) *Logger {
	base := logrus.New()

	level, err := logrus.ParseLevel(strings.TrimSpace(cfg.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	base.SetLevel(level)

	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "json":
		base.SetFormatter(&logrus.JSONFormatter{})
	default:
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	base.SetOutput(openOutput(cfg))
	return &Logger{Logger: base}
}

// NewDefault returns an info-level text logger tagging every entry with the
// given component.
func NewDefault(component string) *Logger {
	l := New(LoggingConfig{})
	return l.Named(component)
}

// Named returns a logger sharing the same output and level that tags entries
// with component.
func (l *Logger) Named(component string) *Logger {
	component = strings.TrimSpace(component)
	child := &Logger{Logger: l.Logger, component: component}
	if component != "" {
		cloned := logrus.New()
		cloned.SetOutput(l.Out)
		cloned.SetFormatter(l.Formatter)
		cloned.SetLevel(l.GetLevel())
		cloned.AddHook(componentHook{component: component})
		child.Logger = cloned
	}
	return child
}

// Component reports the component name attached to the logger.
func (l *Logger) Component() string { return l.component }

type componentHook struct {
	component string
}

func (h componentHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h componentHook) Fire(entry *logrus.Entry) error {
	if _, ok := entry.Data["component"]; !ok {
		entry.Data["component"] = h.component
	}
	return nil
}

func openOutput(cfg LoggingConfig) io.Writer {
	switch strings.ToLower(strings.TrimSpace(cfg.Output)) {
	case "stderr":
		return os.Stderr
	case "file":
		prefix := strings.TrimSpace(cfg.FilePrefix)
		if prefix == "" {
			prefix = "staking"
		}
		path := prefix + ".log"
		if dir := filepath.Dir(path); dir != "." {
			_ = os.MkdirAll(dir, 0o755)
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return os.Stdout
		}
		return f
	default:
		return os.Stdout
	}
}
