/*
Copyright © 2025 Seednode <seednode@seedno.de>
*/

package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

const logDate string = `2006-01-02T15:04:05.000-07:00`

// logFormatter prints "<time> | <LEVEL> | <message> key=value ...".
type logFormatter struct{}

func (logFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	b := entry.Buffer
	if b == nil {
		b = &bytes.Buffer{}
	}

	fmt.Fprintf(b, "%s | %-5s | %s",
		entry.Time.Format(logDate),
		strings.ToUpper(levelName(entry.Level)),
		strings.TrimRight(entry.Message, "\r\n"))

	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		fmt.Fprintf(b, " %s=%v", k, entry.Data[k])
	}

	b.WriteByte('\n')

	return b.Bytes(), nil
}

func levelName(l logrus.Level) string {
	if l == logrus.WarnLevel {
		return "warn"
	}
	return l.String()
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// newLogger writes to stderr, or to a rotating file when --log-file is set.
// Debug output only appears with --verbose.
func newLogger(cfg *Config) (*logrus.Logger, io.Closer, error) {
	log := logrus.New()
	log.SetFormatter(logFormatter{})
	log.SetOutput(os.Stderr)

	log.SetLevel(logrus.InfoLevel)
	if cfg.verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	if cfg.logFile == "" {
		return log, nopCloser{}, nil
	}

	w := &lumberjack.Logger{
		Filename:   cfg.logFile,
		MaxSize:    10,
		MaxBackups: 3,
	}
	log.SetOutput(w)

	return log, w, nil
}
