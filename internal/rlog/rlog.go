// Package rlog is the structured logger the demo binary logs through (the
// endpoint accepts one, but no core package writes log records),
// grounded on the teacher's colored console logger but backed by logrus
// so fields attach structurally instead of being interpolated into a
// format string.
package rlog

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is the shape every core package depends on. *logrus.Entry
// satisfies it directly; New returns one pre-configured for the console
// presentation the teacher's demo binary uses.
type Logger interface {
	WithField(key string, value interface{}) *logrus.Entry
	WithFields(fields logrus.Fields) *logrus.Entry
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// New builds a logrus logger writing to out with a level matching the
// teacher's five-level scheme (Success has no logrus equivalent, so it
// is surfaced as Info carrying a success=true field).
func New(out io.Writer, level logrus.Level) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(out)
	l.SetLevel(level)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05"})
	return l
}

// Default is a console logger at Info level, the teacher's default.
func Default() *logrus.Logger {
	return New(os.Stdout, logrus.InfoLevel)
}

// Success logs msg at Info level tagged success=true, preserving the
// teacher's distinct "success" presentation without inventing a logrus
// level that downstream log drains wouldn't recognize.
func Success(l Logger, msg string) {
	l.WithField("success", true).Infof("%s", msg)
}

// Section prints a section header to stdout, matching the teacher's
// boxed banner presentation for the demo binary.
func Section(title string) {
	border := "═══════════════════════════════════════════════════════════"
	fmt.Printf("\n╔%s╗\n", border)
	fmt.Printf("║ %-57s ║\n", title)
	fmt.Printf("╚%s╝\n\n", border)
}

// Banner prints the demo binary's startup banner.
func Banner(title, version string) {
	fmt.Printf("\n=== %s ===\nversion %s\n\n", title, version)
}
