// Package alert fans operator notifications out to the configured
// channels. Delivery is asynchronous; a slow channel never blocks an
// engine tick.
package alert

import (
	"context"
	"sync"
	"time"

	"gcbbot/internal/core"
)

type AlertLevel string

const (
	Info     AlertLevel = "INFO"
	Warning  AlertLevel = "WARNING"
	Error    AlertLevel = "ERROR"
	Critical AlertLevel = "CRITICAL"
)

type AlertPayload struct {
	Level     AlertLevel
	Title     string
	Message   string
	Timestamp time.Time
	Fields    map[string]string
}

type AlertChannel interface {
	Send(ctx context.Context, alert AlertPayload) error
	Name() string
}

// Manager implements core.Notifier over a set of channels.
type Manager struct {
	channels []AlertChannel
	logger   core.Logger
	mu       sync.RWMutex
}

func NewManager(logger core.Logger) *Manager {
	return &Manager{
		channels: make([]AlertChannel, 0),
		logger:   logger.WithField("component", "alert_manager"),
	}
}

func (m *Manager) AddChannel(ch AlertChannel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels = append(m.channels, ch)
	m.logger.Info("Added alert channel", "name", ch.Name())
}

// Notify delivers one notification to every channel without waiting.
// Credentials and secrets must never appear in fields.
func (m *Manager) Notify(ctx context.Context, title, message string, fields map[string]string) {
	m.send(ctx, AlertPayload{
		Level:     Info,
		Title:     title,
		Message:   message,
		Timestamp: time.Now(),
		Fields:    fields,
	})
}

// Alert delivers a leveled notification.
func (m *Manager) Alert(ctx context.Context, title, message string, level AlertLevel, fields map[string]string) {
	m.send(ctx, AlertPayload{
		Level:     level,
		Title:     title,
		Message:   message,
		Timestamp: time.Now(),
		Fields:    fields,
	})
}

func (m *Manager) send(ctx context.Context, payload AlertPayload) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, ch := range m.channels {
		go func(c AlertChannel) {
			timeoutCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancel()

			if err := c.Send(timeoutCtx, payload); err != nil {
				m.logger.Error("Failed to send alert", "channel", c.Name(), "error", err)
			}
		}(ch)
	}
}
