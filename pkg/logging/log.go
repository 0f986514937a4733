// Package logging provides leveled log functions for the conversion pipeline.
// Messages go through the standard log package, optionally into a rotating
// log file.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/natefinch/lumberjack"
)

// Level is the minimum severity a message needs to be written.
type Level uint

const (
	DebugLevel Level = iota
	InfoLevel
	WarningLevel
	ErrorLevel
	SilentLevel
)

var levelNames = map[string]Level{
	"debug":   DebugLevel,
	"info":    InfoLevel,
	"warning": WarningLevel,
	"warn":    WarningLevel,
	"error":   ErrorLevel,
	"silent":  SilentLevel,
}

// ParseLevel maps a level name such as "debug" or "warning" to a Level.
func ParseLevel(name string) (Level, error) {
	l, ok := levelNames[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return InfoLevel, fmt.Errorf("unknown log level %q", name)
	}
	return l, nil
}

var (
	mu      sync.Mutex
	level   = InfoLevel
	rotator *lumberjack.Logger
)

// Config selects the log level and an optional rotating log file.
type Config struct {
	Level   string `yaml:"level" toml:"level"`
	Logfile string `yaml:"logfile" toml:"logfile"`
	MaxSize int    `yaml:"maxSize" toml:"max_log_size"` // megabytes
	MaxAge  int    `yaml:"maxAge" toml:"max_log_age"`   // days
}

// Setup applies c. Without a log file, messages go to stderr.
func (c *Config) Setup() error {
	if c == nil {
		return nil
	}
	if c.Level != "" {
		l, err := ParseLevel(c.Level)
		if err != nil {
			return err
		}
		SetLevel(l)
	}
	if c.Logfile == "" {
		return nil
	}

	mu.Lock()
	defer mu.Unlock()
	if rotator != nil {
		rotator.Close()
	}
	rotator = &lumberjack.Logger{
		Filename: c.Logfile,
		MaxSize:  c.MaxSize,
		MaxAge:   c.MaxAge,
	}
	log.SetOutput(rotator)
	return nil
}

// SetLevel sets the severity required for a message to be printed.
func SetLevel(l Level) {
	mu.Lock()
	level = l
	mu.Unlock()
}

// SetOutput redirects log output, closing any open log file.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	if rotator != nil {
		rotator.Close()
		rotator = nil
	}
	log.SetOutput(w)
}

// Shutdown closes the log file, if any, and resets output to stderr.
func Shutdown() {
	SetOutput(os.Stderr)
}

func enabled(l Level) bool {
	mu.Lock()
	defer mu.Unlock()
	return level <= l
}

// Debugf logs a message at DebugLevel.
func Debugf(format string, args ...interface{}) {
	if enabled(DebugLevel) {
		log.Printf(" DEBUG "+format, args...)
	}
}

// Infof logs a message at InfoLevel.
func Infof(format string, args ...interface{}) {
	if enabled(InfoLevel) {
		log.Printf(" INFO "+format, args...)
	}
}

// Warningf logs a message at WarningLevel.
func Warningf(format string, args ...interface{}) {
	if enabled(WarningLevel) {
		log.Printf(" WARNING "+format, args...)
	}
}

// Errorf logs a message at ErrorLevel.
func Errorf(format string, args ...interface{}) {
	if enabled(ErrorLevel) {
		log.Printf(" ERROR "+format, args...)
	}
}

// TimeLog appends the elapsed time since its creation to each message.
//
//	tlog := logging.NewTimeLog()
//	...
//	tlog.Infof("classified %d slices", n)
type TimeLog struct {
	start time.Time
}

// NewTimeLog returns a TimeLog that starts counting now.
func NewTimeLog() TimeLog {
	return TimeLog{start: time.Now()}
}

// Elapsed returns the time since the TimeLog was created.
func (t TimeLog) Elapsed() time.Duration {
	return time.Since(t.start)
}

// Debugf logs at DebugLevel with the elapsed time appended.
func (t TimeLog) Debugf(format string, args ...interface{}) {
	Debugf(format+": %s", append(args, t.Elapsed())...)
}

// Infof is like Debugf at InfoLevel.
func (t TimeLog) Infof(format string, args ...interface{}) {
	Infof(format+": %s", append(args, t.Elapsed())...)
}

// Warningf is like Debugf at WarningLevel.
func (t TimeLog) Warningf(format string, args ...interface{}) {
	Warningf(format+": %s", append(args, t.Elapsed())...)
}

// Errorf is like Debugf at ErrorLevel.
func (t TimeLog) Errorf(format string, args ...interface{}) {
	Errorf(format+": %s", append(args, t.Elapsed())...)
}
