package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Options struct {
	// 0 info, 1 debug, 2 debug with caller
	Debug int
	// rotated log file, stdout when empty
	File string
}

// Init configures the standard logrus logger. When the log file cannot be
// prepared it falls back to stdout and returns the reason so the caller can
// report it once logging works.
func Init(opts Options) error {
	log.SetLevel(log.InfoLevel)
	log.SetReportCaller(false)
	if opts.Debug > 0 {
		log.SetLevel(log.DebugLevel)
	}
	if opts.Debug == 2 {
		log.SetReportCaller(true)
	}
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp: true,
	})

	out, err := NewRotatedWriter(opts.File)
	log.SetOutput(out)
	return err
}

// NewRotatedWriter returns a size-rotated writer for filename, or stdout when
// filename is empty or its directory cannot be created.
func NewRotatedWriter(filename string) (io.Writer, error) {
	if filename == "" {
		return os.Stdout, nil
	}
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return os.Stdout, fmt.Errorf("create log dir %v: %w", dir, err)
	}
	return &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    100, // MB
		MaxBackups: 10,
		MaxAge:     30, // days
		Compress:   true,
	}, nil
}
