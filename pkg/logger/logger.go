package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controls logger construction
type Options struct {
	Level  string
	Format string
	// Dir enables a rotating app.log in the directory in addition to stdout
	Dir string
}

// New creates the process logger. The returned closer flushes the log file.
func New(opts Options) (*logrus.Logger, io.Closer, error) {
	log := logrus.New()

	level := logrus.InfoLevel
	if opts.Level != "" {
		parsed, err := logrus.ParseLevel(opts.Level)
		if err != nil {
			return nil, nil, fmt.Errorf("log level: %w", err)
		}
		level = parsed
	}
	log.SetLevel(level)

	switch opts.Format {
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	case "", "text":
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return nil, nil, fmt.Errorf("log format %q not supported", opts.Format)
	}

	if opts.Dir == "" {
		log.SetOutput(os.Stdout)
		return log, nopCloser{}, nil
	}

	absDir, err := filepath.Abs(opts.Dir)
	if err != nil {
		absDir = opts.Dir
	}
	if err := os.MkdirAll(absDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("failed to create log directory %s: %w", absDir, err)
	}

	file := &lumberjack.Logger{
		Filename:   filepath.Join(absDir, "app.log"),
		MaxSize:    10, // 10 MB
		MaxBackups: 30,
		MaxAge:     30, // days
		Compress:   true,
		LocalTime:  true,
	}
	log.SetOutput(io.MultiWriter(os.Stdout, file))
	log.WithField("dir", absDir).Info("logger initialized")
	return log, file, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
