package logger

import (
	"fmt"
	"strings"
	"sync"

	"github.com/fatih/color"
)

type LogStatus int

const (
	VERBOSE LogStatus = iota
	DEBUG
	INFO
	SUCCESS
	NEW
	REMOVE
	STOP
	WARNING
	ERROR
	FATAL
)

var minStatus = INFO

func (e LogStatus) String() string {
	return []string{
		"V",
		"D",
		"I",
		"✓",
		"+",
		"-",
		"X",
		"!",
		"!!",
		"PANIC",
	}[e]
}

func (e LogStatus) Color() *color.Color {
	return []*color.Color{
		color.New(color.FgWhite, color.Italic),                //Verbose
		color.New(color.FgWhite, color.Italic),                //Debug
		color.New(color.FgWhite),                              //Info
		color.New(color.FgHiGreen),                            //Success
		color.New(color.FgGreen, color.Italic),                //New
		color.New(color.FgYellow, color.Italic),               //Remove
		color.New(color.FgHiYellow),                           //Stop
		color.New(color.FgYellow, color.Underline),            //Warning
		color.New(color.FgHiRed, color.Bold),                  //Error
		color.New(color.FgHiRed, color.Bold, color.Underline), //PANIC
	}[e]
}

// Level returns the numeric level of this status, for use with
// SetMinLoggingLevel.
func (e LogStatus) Level() int { return int(e) }

// ParseLevel converts a level name (as found in config) to a LogStatus. Unknown
// names resolve to INFO.
func ParseLevel(name string) LogStatus {
	switch strings.ToLower(name) {
	case "verbose":
		return VERBOSE
	case "debug":
		return DEBUG
	case "warning", "warn":
		return WARNING
	case "error":
		return ERROR
	default:
		return INFO
	}
}

type Logger interface {
	Emit(LogStatus, string, ...interface{})
}

type loggerImpl struct {
	name string
}

func (l *loggerImpl) Emit(status LogStatus, message string, interpolations ...interface{}) {
	Log.Emit(status, l.name, message, interpolations...)
}

type LoggerManager interface {
	GetLogger(string) Logger
	Emit(LogStatus, string, string, ...interface{})
}

var Log LoggerManager = &loggerMgr{
	offset: 0,
}

type loggerMgr struct {
	sync.Mutex
	offset int
}

func (l *loggerMgr) GetLogger(name string) Logger {
	return &loggerImpl{name: name}
}

func (l *loggerMgr) Emit(status LogStatus, name string, message string, interpolations ...interface{}) {
	if status < minStatus {
		return
	}

	l.Lock()
	defer l.Unlock()

	l.setNameOffset(len(name))
	padding := strings.Repeat(" ", l.offset-len(name))
	msg := fmt.Sprintf("[%s] %s(%s) %s", name, padding, status, fmt.Sprintf(message, interpolations...))
	if !strings.HasSuffix(msg, "\n") {
		msg += "\n"
	}

	status.Color().Print(msg)
}

func (l *loggerMgr) setNameOffset(offset int) {
	if offset > l.offset {
		l.offset = offset
	}
}

// SetMinLoggingLevel adjusts the lowest level which will be printed. Messages
// emitted below this level are discarded.
func SetMinLoggingLevel(level int) {
	minStatus = LogStatus(level)
}

func Get(name string) Logger {
	return Log.GetLogger(name)
}
