// Package logging configures the logrus logger shared by the map
// components and binaries.
package logging

import (
	"fmt"
	"io"
	"os"

	nested "github.com/antonfisher/nested-logrus-formatter"
	"github.com/shiena/ansicolor"
	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"slippymap/internal/config"
)

var nop = func() *log.Entry {
	l := log.New()
	l.SetOutput(io.Discard)
	l.SetLevel(log.PanicLevel)
	return log.NewEntry(l)
}()

// Nop returns an entry that discards everything
func Nop() *log.Entry {
	return nop
}

// Or returns e, or Nop when e is nil
func Or(e *log.Entry) *log.Entry {
	if e == nil {
		return nop
	}
	return e
}

// Setup builds a logger from cfg: nested formatter on a colored console,
// plus a rotated file when cfg.File is set.
func Setup(cfg config.Log) (*log.Logger, error) {
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("log level %q: %w", cfg.Level, err)
	}

	logger := log.New()
	logger.SetLevel(level)
	logger.SetFormatter(&nested.Formatter{
		HideKeys:        true,
		ShowFullLevel:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
		FieldsOrder:     []string{"component", "layer", "job"},
	})

	var out io.Writer = ansicolor.NewAnsiColorWriter(os.Stdout)
	if cfg.File != "" {
		out = io.MultiWriter(out, &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
		})
	}
	logger.SetOutput(out)

	return logger, nil
}

// Component returns an entry tagged with the component name
func Component(l *log.Logger, name string) *log.Entry {
	if l == nil {
		return nop
	}
	return l.WithField("component", name)
}
