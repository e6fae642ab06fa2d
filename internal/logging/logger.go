// Package logging is a small leveled logger with structured fields. Field
// helpers tag lines with the hardware they concern.
package logging

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Level represents a logging severity.
type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
)

func (l Level) String() string {
	switch l {
	case Debug:
		return "DEBUG"
	case Info:
		return "INFO"
	case Warn:
		return "WARN"
	case Error:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a string to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return Debug, nil
	case "info", "":
		return Info, nil
	case "warn", "warning":
		return Warn, nil
	case "error":
		return Error, nil
	default:
		return Level(0), fmt.Errorf("unsupported log level %q", s)
	}
}

// Format controls how log entries are rendered.
type Format int

const (
	Text Format = iota
	JSON
)

func (f Format) String() string {
	switch f {
	case Text:
		return "text"
	case JSON:
		return "json"
	default:
		return "unknown"
	}
}

// ParseFormat converts a string to a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "json":
		return JSON, nil
	case "text", "":
		return Text, nil
	default:
		return Format(0), fmt.Errorf("unsupported log format %q", s)
	}
}

// Field represents a structured log field.
type Field struct {
	Key   string
	Value any
}

// Engine tags a log line with the engine (model_slot) it concerns.
func Engine(name string) Field { return Field{Key: "engine", Value: name} }

// Channel tags a log line with a 1-based hardware channel.
func Channel(ch int) Field { return Field{Key: "channel", Value: ch} }

// Waveform tags a log line with a waveform id.
func Waveform(id int) Field { return Field{Key: "waveform", Value: id} }

// Item tags a log line with a 1-based queue item.
func Item(n int) Field { return Field{Key: "item", Value: n} }

// Run tags a log line with a run identifier.
func Run(id string) Field { return Field{Key: "run", Value: id} }

// Err attaches an error. A nil error yields an empty field, which is skipped.
func Err(err error) Field {
	if err == nil {
		return Field{}
	}
	return Field{Key: "error", Value: err.Error()}
}

// Logger defines leveled structured logging operations.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	With(fields ...Field) Logger
}

var (
	defaultMu     sync.RWMutex
	defaultLogger Logger
)

// Default returns the process-wide logger. Until SetDefault is called it
// discards everything.
func Default() Logger {
	defaultMu.RLock()
	l := defaultLogger
	defaultMu.RUnlock()
	if l != nil {
		return l
	}
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultLogger == nil {
		defaultLogger = New(Info, Text, io.Discard)
	}
	return defaultLogger
}

// SetDefault replaces the process-wide logger.
func SetDefault(l Logger) {
	if l == nil {
		return
	}
	defaultMu.Lock()
	defaultLogger = l
	defaultMu.Unlock()
}

// sink serializes writes from every logger derived from one New call.
type sink struct {
	mu  sync.Mutex
	out io.Writer
	now func() time.Time
}

func (s *sink) write(line []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = s.out.Write(line)
}

type baseLogger struct {
	level  Level
	format Format
	fields []Field
	sink   *sink
}

// New constructs a Logger with the given level, format, and output writer.
func New(level Level, format Format, out io.Writer) Logger {
	return &baseLogger{
		level:  level,
		format: format,
		sink:   &sink{out: out, now: time.Now},
	}
}

func (l *baseLogger) With(fields ...Field) Logger {
	combined := make([]Field, 0, len(l.fields)+len(fields))
	combined = append(combined, l.fields...)
	combined = append(combined, fields...)
	return &baseLogger{level: l.level, format: l.format, fields: combined, sink: l.sink}
}

func (l *baseLogger) Debug(msg string, fields ...Field) { l.log(Debug, msg, fields...) }
func (l *baseLogger) Info(msg string, fields ...Field)  { l.log(Info, msg, fields...) }
func (l *baseLogger) Warn(msg string, fields ...Field)  { l.log(Warn, msg, fields...) }
func (l *baseLogger) Error(msg string, fields ...Field) { l.log(Error, msg, fields...) }

func (l *baseLogger) log(level Level, msg string, fields ...Field) {
	if level < l.level {
		return
	}
	all := make([]Field, 0, len(l.fields)+len(fields))
	for _, f := range append(l.fields, fields...) {
		if f.Key != "" {
			all = append(all, f)
		}
	}
	ts := l.sink.now()
	if l.format == JSON {
		l.sink.write(encodeJSON(ts, level, msg, all))
		return
	}
	l.sink.write(encodeText(ts, level, msg, all))
}

// encodeText renders "<time> [LEVEL] msg k=v ...". Values containing spaces
// or quotes are quoted.
func encodeText(ts time.Time, level Level, msg string, fields []Field) []byte {
	var b bytes.Buffer
	b.WriteString(ts.Format("2006/01/02 15:04:05.000"))
	b.WriteString(" [")
	b.WriteString(level.String())
	b.WriteString("] ")
	b.WriteString(msg)
	for _, f := range fields {
		v := fmt.Sprint(f.Value)
		if v == "" || strings.ContainsAny(v, " \t\"=") {
			v = strconv.Quote(v)
		}
		b.WriteByte(' ')
		b.WriteString(f.Key)
		b.WriteByte('=')
		b.WriteString(v)
	}
	b.WriteByte('\n')
	return b.Bytes()
}

// encodeJSON renders one JSON object per line. Later fields override
// earlier ones with the same key.
func encodeJSON(ts time.Time, level Level, msg string, fields []Field) []byte {
	payload := make(map[string]any, len(fields)+3)
	for _, f := range fields {
		payload[f.Key] = f.Value
	}
	payload["time"] = ts.UTC().Format(time.RFC3339Nano)
	payload["level"] = level.String()
	payload["msg"] = msg
	data, err := json.Marshal(payload)
	if err != nil {
		data, _ = json.Marshal(map[string]any{
			"time":  ts.UTC().Format(time.RFC3339Nano),
			"level": Error.String(),
			"msg":   "unencodable log entry: " + msg,
			"error": err.Error(),
		})
	}
	return append(data, '\n')
}
