package logging

import "context"

// NoOpLogger discards all logs. Used by tests and the embedded demo.
type NoOpLogger struct{}

// NewNoOp creates a logger that discards everything.
func NewNoOp() Logger {
	return &NoOpLogger{}
}

func (n *NoOpLogger) Debug(msg string, fields ...interface{}) {}
func (n *NoOpLogger) Info(msg string, fields ...interface{})  {}
func (n *NoOpLogger) Warn(msg string, fields ...interface{})  {}
func (n *NoOpLogger) Error(msg string, fields ...interface{}) {}

func (n *NoOpLogger) DebugContext(ctx context.Context, msg string, fields ...interface{}) {}
func (n *NoOpLogger) InfoContext(ctx context.Context, msg string, fields ...interface{})  {}
func (n *NoOpLogger) WarnContext(ctx context.Context, msg string, fields ...interface{})  {}
func (n *NoOpLogger) ErrorContext(ctx context.Context, msg string, fields ...interface{}) {}

func (n *NoOpLogger) WithTraceID(traceID string) Logger { return n }
func (n *NoOpLogger) WithComponent(component string) Logger { return n }
