package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"
)

// Settings stores config for Logger
type Settings struct {
	Path       string `cfg:"path" yaml:"path"`
	Name       string `cfg:"name" yaml:"name"`
	Ext        string `cfg:"ext" yaml:"ext"`
	TimeFormat string `cfg:"time-format" yaml:"time-format"`
}

// LogLevel is the severity of a log entry
type LogLevel int

// Output levels
const (
	DEBUG LogLevel = iota
	INFO
	WARNING
	ERROR
	FATAL
)

const (
	flags              = log.LstdFlags
	defaultCallerDepth = 2
	bufferSize         = 1e5
)

var levelFlags = []string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}

type logEntry struct {
	msg   string
	level LogLevel
}

// ILogger defines the methods that any logger should implement
type ILogger interface {
	Output(level LogLevel, callerDepth int, msg string)
}

// Logger writes formatted entries to stdout, and to a log file when
// created through NewFileLogger
type Logger struct {
	logFile   *os.File
	logger    *log.Logger
	minLevel  LogLevel
	entryChan chan *logEntry
	entryPool *sync.Pool
}

// DefaultLogger is used by the package level helpers
var DefaultLogger ILogger = NewStdoutLogger()

func makeLogger(out io.Writer, logFile *os.File) *Logger {
	l := &Logger{
		logFile:   logFile,
		logger:    log.New(out, "", flags),
		entryChan: make(chan *logEntry, bufferSize),
		entryPool: &sync.Pool{
			New: func() interface{} {
				return &logEntry{}
			},
		},
	}
	go func() {
		for e := range l.entryChan {
			_ = l.logger.Output(0, e.msg) // msg includes caller, no need for calldepth
			l.entryPool.Put(e)
		}
	}()
	return l
}

// NewStdoutLogger creates a logger which print msg to stdout
func NewStdoutLogger() *Logger {
	return makeLogger(os.Stdout, nil)
}

// NewFileLogger creates a logger which print msg to stdout and log file
func NewFileLogger(settings *Settings) (*Logger, error) {
	fileName := fmt.Sprintf("%s-%s.%s",
		settings.Name,
		time.Now().Format(settings.TimeFormat),
		settings.Ext)
	logFile, err := mustOpen(fileName, settings.Path)
	if err != nil {
		return nil, fmt.Errorf("logging.Join err: %s", err)
	}
	return makeLogger(io.MultiWriter(os.Stdout, logFile), logFile), nil
}

// Setup initializes DefaultLogger
func Setup(settings *Settings) {
	logger, err := NewFileLogger(settings)
	if err != nil {
		panic(err)
	}
	DefaultLogger = logger
}

// SetLevel suppresses entries below the given level
func (l *Logger) SetLevel(level LogLevel) {
	l.minLevel = level
}

// Output sends a msg to logger
func (l *Logger) Output(level LogLevel, callerDepth int, msg string) {
	if level < l.minLevel {
		return
	}
	var formattedMsg string
	_, file, line, ok := runtime.Caller(callerDepth)
	if ok {
		formattedMsg = fmt.Sprintf("[%s][%s:%d] %s", levelFlags[level], filepath.Base(file), line, msg)
	} else {
		formattedMsg = fmt.Sprintf("[%s] %s", levelFlags[level], msg)
	}
	entry := l.entryPool.Get().(*logEntry)
	entry.msg = formattedMsg
	entry.level = level
	l.entryChan <- entry
}

// Debug logs debug message through DefaultLogger
func Debug(v ...interface{}) {
	DefaultLogger.Output(DEBUG, defaultCallerDepth, fmt.Sprintln(v...))
}

// Debugf logs debug message through DefaultLogger
func Debugf(format string, v ...interface{}) {
	DefaultLogger.Output(DEBUG, defaultCallerDepth, fmt.Sprintf(format, v...))
}

// Info logs message through DefaultLogger
func Info(v ...interface{}) {
	DefaultLogger.Output(INFO, defaultCallerDepth, fmt.Sprintln(v...))
}

// Infof logs message through DefaultLogger
func Infof(format string, v ...interface{}) {
	DefaultLogger.Output(INFO, defaultCallerDepth, fmt.Sprintf(format, v...))
}

// Warn logs warning message through DefaultLogger
func Warn(v ...interface{}) {
	DefaultLogger.Output(WARNING, defaultCallerDepth, fmt.Sprintln(v...))
}

// Error logs error message through DefaultLogger
func Error(v ...interface{}) {
	DefaultLogger.Output(ERROR, defaultCallerDepth, fmt.Sprintln(v...))
}

// Errorf logs error message through DefaultLogger
func Errorf(format string, v ...interface{}) {
	DefaultLogger.Output(ERROR, defaultCallerDepth, fmt.Sprintf(format, v...))
}

// Fatal prints error message through DefaultLogger
func Fatal(v ...interface{}) {
	DefaultLogger.Output(FATAL, defaultCallerDepth, fmt.Sprintln(v...))
}

func mustOpen(fileName, dir string) (*os.File, error) {
	if dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create dir %s: %s", dir, err)
		}
	}
	f, err := os.OpenFile(filepath.Join(dir, fileName), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open file %s: %s", fileName, err)
	}
	return f, nil
}
