// Package logging gates the standard logger by verbosity level.
package logging

import (
	"io"
	"log"
	"os"
	"sync/atomic"

	"github.com/kpaschen/disttsvd/lib/settings"
	"gopkg.in/natefinch/lumberjack.v2"
)

var verbosity atomic.Int32

func init() {
	verbosity.Store(settings.LEVEL_INFO)
}

func SetVerbosity(level int) {
	verbosity.Store(int32(level))
}

func Verbosity() int {
	return int(verbosity.Load())
}

func Enabled(level int) bool {
	return level <= Verbosity()
}

func logf(level int, format string, args ...interface{}) {
	if Enabled(level) {
		log.Printf(format, args...)
	}
}

func Tracef(format string, args ...interface{}) { logf(settings.LEVEL_TRACE, format, args...) }
func Debugf(format string, args ...interface{}) { logf(settings.LEVEL_DEBUG, format, args...) }
func Infof(format string, args ...interface{})  { logf(settings.LEVEL_INFO, format, args...) }
func Warnf(format string, args ...interface{})  { logf(settings.LEVEL_WARN, format, args...) }
func Errorf(format string, args ...interface{}) { logf(settings.LEVEL_ERROR, format, args...) }

// A Level gates output by its own verbosity instead of the process-wide one.
// Estimators log through a Level built from their verbose hyperparameter.
type Level int

func (l Level) Enabled(level int) bool {
	return level <= int(l)
}

func (l Level) logf(level int, format string, args ...interface{}) {
	if l.Enabled(level) {
		log.Printf(format, args...)
	}
}

func (l Level) Debugf(format string, args ...interface{}) { l.logf(settings.LEVEL_DEBUG, format, args...) }
func (l Level) Infof(format string, args ...interface{})  { l.logf(settings.LEVEL_INFO, format, args...) }
func (l Level) Warnf(format string, args ...interface{})  { l.logf(settings.LEVEL_WARN, format, args...) }

// ConfigureOutput sends the standard logger to a rotating file as well as stderr.
// An empty path leaves the logger alone.
func ConfigureOutput(path string, maxSizeMB int, backups int) io.Closer {
	if path == "" {
		return nil
	}
	if maxSizeMB == 0 {
		maxSizeMB = 100
	}
	rotating := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: backups,
		Compress:   true,
	}
	log.SetOutput(io.MultiWriter(os.Stderr, rotating))
	return rotating
}
