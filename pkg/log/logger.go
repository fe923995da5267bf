package log

import "time"

// Logger is the structured logger every livespace component takes.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)

	// With returns a child logger that adds fields to every line.
	With(fields ...Field) Logger
}

// Field is one key/value pair of a log line.
type Field struct {
	Key   string
	Value any
}

func String(key, value string) Field { return Field{key, value} }
func Int(key string, value int) Field { return Field{key, value} }
func Int64(key string, value int64) Field { return Field{key, value} }
func Uint64(key string, value uint64) Field { return Field{key, value} }
func Bool(key string, value bool) Field { return Field{key, value} }
func Duration(key string, d time.Duration) Field { return Field{key, d} }
func Any(key string, value any) Field { return Field{key, value} }

// Err logs err under "error".
func Err(err error) Field { return Field{"error", err} }

// Component names the emitting component.
func Component(name string) Field { return String("component", name) }

// Activity carries an activity uuid.
func Activity(uuid string) Field { return String("activity", uuid) }

// Node carries a node uuid.
func Node(uuid string) Field { return String("node", uuid) }
