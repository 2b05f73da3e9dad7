package audit

import (
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// EventType represents the type of audit event
type EventType string

const (
	EventAssetSelected   EventType = "asset_selected"
	EventSelectionMissed EventType = "selection_missed"
	EventTokenResolved   EventType = "token_resolved"
	EventTokenRejected   EventType = "token_rejected"
	EventAuthFailed      EventType = "auth_failed"
	EventRateLimited     EventType = "rate_limited"
	EventAssetReadFailed EventType = "asset_read_failed"
	EventTokensSwept     EventType = "tokens_swept"
)

// Event represents an audit log event
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
	RequestID string    `json:"request_id,omitempty"`
	ClientIP  string    `json:"client_ip,omitempty"`
	Group     string    `json:"group,omitempty"`
	Category  string    `json:"category,omitempty"`
	Filename  string    `json:"filename,omitempty"`
	Token     string    `json:"token,omitempty"`
	Count     int       `json:"count,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Auditor is what request handling depends on; Logger and NopLogger implement it
type Auditor interface {
	Log(event *Event)
	LogAssetSelected(requestID, clientIP, group, category, filename, token string)
	LogSelectionMissed(requestID, clientIP, group, category string)
	LogTokenResolved(requestID, clientIP, token string)
	LogTokenRejected(requestID, clientIP, token string)
	LogAuthFailed(requestID, clientIP string)
	LogTokensSwept(count int)
	LogError(eventType EventType, requestID, clientIP, errorMsg string)
	Close() error
}

// Config holds audit logger configuration
type Config struct {
	// Enabled enables/disables audit logging
	Enabled bool `yaml:"enabled"`

	// Level controls what events are logged
	// "minimal" - only auth failures and read errors
	// "standard" - minimal + selections and rejected tokens
	// "verbose" - all events including successful token lookups
	Level string `yaml:"level"`

	// Output specifies where to write logs
	// "stdout", "stderr", or a file path
	Output string `yaml:"output"`

	// Format specifies log format: "json" or "console"
	Format string `yaml:"format"`

	// IncludeClientIP keeps client addresses in events
	IncludeClientIP bool `yaml:"include_client_ip"`
}

// DefaultConfig returns the default audit configuration
func DefaultConfig() *Config {
	return &Config{
		Enabled:         true,
		Level:           "standard",
		Output:          "stdout",
		Format:          "json",
		IncludeClientIP: false,
	}
}

// Logger handles audit logging
type Logger struct {
	mu      sync.RWMutex
	config  *Config
	logger  zerolog.Logger
	output  io.Writer
	enabled bool
}

// NewLogger creates a new audit logger
func NewLogger(cfg *Config) (*Logger, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	l := &Logger{
		config:  cfg,
		enabled: cfg.Enabled,
	}

	if err := l.setupOutput(); err != nil {
		return nil, err
	}

	return l, nil
}

func (l *Logger) setupOutput() error {
	var output io.Writer

	switch l.config.Output {
	case "", "stdout":
		output = os.Stdout
	case "stderr":
		output = os.Stderr
	default:
		f, err := os.OpenFile(l.config.Output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
		if err != nil {
			return err
		}
		output = f
	}

	l.output = output

	w := output
	if l.config.Format == "console" {
		w = zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339, NoColor: true}
	}
	l.logger = zerolog.New(w).With().Str("log", "audit").Logger()
	return nil
}

// Log logs an audit event
func (l *Logger) Log(event *Event) {
	l.mu.RLock()
	enabled := l.enabled
	config := l.config
	logger := l.logger
	l.mu.RUnlock()

	if !enabled {
		return
	}

	if !shouldLog(config.Level, event.Type) {
		return
	}

	event.Timestamp = time.Now()

	if !config.IncludeClientIP {
		event.ClientIP = ""
	}

	e := logger.Info().
		Time("timestamp", event.Timestamp).
		Str("type", string(event.Type))

	if event.RequestID != "" {
		e = e.Str("request_id", event.RequestID)
	}
	if event.ClientIP != "" {
		e = e.Str("client_ip", event.ClientIP)
	}
	if event.Group != "" {
		e = e.Str("group", event.Group)
	}
	if event.Category != "" {
		e = e.Str("category", event.Category)
	}
	if event.Filename != "" {
		e = e.Str("filename", event.Filename)
	}
	if event.Token != "" {
		e = e.Str("token", event.Token)
	}
	if event.Count > 0 {
		e = e.Int("count", event.Count)
	}
	if event.Error != "" {
		e = e.Str("error", event.Error)
	}

	e.Msg("audit")
}

func shouldLog(level string, eventType EventType) bool {
	switch level {
	case "minimal":
		return eventType == EventAuthFailed ||
			eventType == EventAssetReadFailed
	case "standard":
		return eventType != EventTokenResolved &&
			eventType != EventTokensSwept
	default:
		return true
	}
}

// LogAssetSelected logs a successful random selection
func (l *Logger) LogAssetSelected(requestID, clientIP, group, category, filename, token string) {
	l.Log(&Event{
		Type:      EventAssetSelected,
		RequestID: requestID,
		ClientIP:  clientIP,
		Group:     group,
		Category:  category,
		Filename:  filename,
		Token:     token,
	})
}

// LogSelectionMissed logs a selection that found nothing
func (l *Logger) LogSelectionMissed(requestID, clientIP, group, category string) {
	l.Log(&Event{
		Type:      EventSelectionMissed,
		RequestID: requestID,
		ClientIP:  clientIP,
		Group:     group,
		Category:  category,
	})
}

// LogTokenResolved logs a successful fetch-by-token lookup
func (l *Logger) LogTokenResolved(requestID, clientIP, token string) {
	l.Log(&Event{
		Type:      EventTokenResolved,
		RequestID: requestID,
		ClientIP:  clientIP,
		Token:     token,
	})
}

// LogTokenRejected logs an unknown or expired token
func (l *Logger) LogTokenRejected(requestID, clientIP, token string) {
	l.Log(&Event{
		Type:      EventTokenRejected,
		RequestID: requestID,
		ClientIP:  clientIP,
		Token:     token,
	})
}

// LogAuthFailed logs a key mismatch
func (l *Logger) LogAuthFailed(requestID, clientIP string) {
	l.Log(&Event{
		Type:      EventAuthFailed,
		RequestID: requestID,
		ClientIP:  clientIP,
	})
}

// LogTokensSwept logs a scheduled prune
func (l *Logger) LogTokensSwept(count int) {
	l.Log(&Event{
		Type:  EventTokensSwept,
		Count: count,
	})
}

// LogError logs an error event
func (l *Logger) LogError(eventType EventType, requestID, clientIP, errorMsg string) {
	l.Log(&Event{
		Type:      eventType,
		RequestID: requestID,
		ClientIP:  clientIP,
		Error:     errorMsg,
	})
}

// Close closes the logger
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if closer, ok := l.output.(io.Closer); ok {
		if l.output != os.Stdout && l.output != os.Stderr {
			return closer.Close()
		}
	}
	return nil
}

// ToJSON converts an event to JSON
func (e *Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// NopLogger is a logger that does nothing
type NopLogger struct{}

// NewNopLogger creates a no-op logger
func NewNopLogger() *NopLogger {
	return &NopLogger{}
}

// Log does nothing
func (l *NopLogger) Log(_ *Event) {}

// LogAssetSelected does nothing
func (l *NopLogger) LogAssetSelected(_, _, _, _, _, _ string) {}

// LogSelectionMissed does nothing
func (l *NopLogger) LogSelectionMissed(_, _, _, _ string) {}

// LogTokenResolved does nothing
func (l *NopLogger) LogTokenResolved(_, _, _ string) {}

// LogTokenRejected does nothing
func (l *NopLogger) LogTokenRejected(_, _, _ string) {}

// LogAuthFailed does nothing
func (l *NopLogger) LogAuthFailed(_, _ string) {}

// LogTokensSwept does nothing
func (l *NopLogger) LogTokensSwept(_ int) {}

// LogError does nothing
func (l *NopLogger) LogError(_ EventType, _, _, _ string) {}

// Close does nothing
func (l *NopLogger) Close() error { return nil }
