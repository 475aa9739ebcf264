package monitoring

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AlertType classifies what a threshold breach is about.
type AlertType string

const (
	AlertLowHitRate   AlertType = "low_hit_rate"
	AlertSlowResponse AlertType = "slow_response"
	AlertKeyCount     AlertType = "key_count"
	AlertMemory       AlertType = "memory"
	AlertRemoteDown   AlertType = "remote_down"
)

// Severity grades an alert.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is a threshold breach. Alerts are deduplicated by type plus
// message among the unresolved set, so a sustained condition produces
// one alert, not a storm.
type Alert struct {
	ID        string    `json:"id"`
	Type      AlertType `json:"type"`
	Severity  Severity  `json:"severity"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// AlertEventKind distinguishes raise from resolution events.
type AlertEventKind string

const (
	AlertRaised   AlertEventKind = "raised"
	AlertResolved AlertEventKind = "resolved"
)

// AlertEvent is what subscribers receive.
type AlertEvent struct {
	Kind  AlertEventKind `json:"kind"`
	Alert Alert          `json:"alert"`
}

// subscriberBuffer is the per-subscriber channel depth. A subscriber
// that falls behind loses events rather than blocking the monitor.
const subscriberBuffer = 16

// Subscribe registers a listener for alert events. Delivery is
// non-blocking: events are dropped for subscribers whose buffer is
// full.
func (m *Monitor) Subscribe() <-chan AlertEvent {
	ch := make(chan AlertEvent, subscriberBuffer)
	m.mu.Lock()
	m.subscribers = append(m.subscribers, ch)
	m.mu.Unlock()
	return ch
}

// ActiveAlerts returns the unresolved alerts, oldest first.
func (m *Monitor) ActiveAlerts() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()

	alerts := make([]Alert, 0, len(m.alerts))
	for _, a := range m.alerts {
		alerts = append(alerts, a)
	}
	sort.Slice(alerts, func(i, j int) bool {
		return alerts[i].Timestamp.Before(alerts[j].Timestamp)
	})
	return alerts
}

// ResolveAlert removes an alert from the active set and emits a
// resolution event. Alerts are only ever resolved explicitly; a healthy
// tick never auto-resolves, to avoid flapping.
func (m *Monitor) ResolveAlert(id string) bool {
	m.mu.Lock()
	alert, ok := m.alerts[id]
	if ok {
		delete(m.alerts, id)
		delete(m.dedup, dedupKey(alert.Type, alert.Message))
	}
	m.mu.Unlock()

	if !ok {
		return false
	}

	m.logger.Info("alert resolved", map[string]interface{}{
		"id":   alert.ID,
		"type": string(alert.Type),
	})
	m.publish(AlertEvent{Kind: AlertResolved, Alert: alert})
	return true
}

// evaluateAlerts turns a health report's issues into alerts.
func (m *Monitor) evaluateAlerts(report HealthReport) {
	for _, issue := range report.Issues {
		alertType, severity := classifyIssue(issue)
		m.raiseAlert(alertType, severity, issue)
	}
}

// raiseAlert creates an alert unless an unresolved alert with the same
// type and message already exists.
func (m *Monitor) raiseAlert(alertType AlertType, severity Severity, message string) {
	key := dedupKey(alertType, message)

	m.mu.Lock()
	if _, exists := m.dedup[key]; exists {
		m.mu.Unlock()
		return
	}
	alert := Alert{
		ID:        uuid.NewString(),
		Type:      alertType,
		Severity:  severity,
		Message:   message,
		Timestamp: m.now(),
	}
	m.alerts[alert.ID] = alert
	m.dedup[key] = alert.ID
	m.mu.Unlock()

	m.logger.Warn("cache alert raised", map[string]interface{}{
		"id":       alert.ID,
		"type":     string(alert.Type),
		"severity": string(alert.Severity),
		"message":  alert.Message,
	})
	m.metrics.IncrementCounterWithLabels("cache.alerts", 1, map[string]string{
		"type":     string(alert.Type),
		"severity": string(alert.Severity),
	})
	m.publish(AlertEvent{Kind: AlertRaised, Alert: alert})
}

func (m *Monitor) publish(event AlertEvent) {
	m.mu.Lock()
	subs := make([]chan AlertEvent, len(m.subscribers))
	copy(subs, m.subscribers)
	m.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- event:
		default:
		}
	}
}

func dedupKey(alertType AlertType, message string) string {
	return string(alertType) + "|" + message
}

func classifyIssue(issue string) (AlertType, Severity) {
	switch {
	case strings.HasPrefix(issue, "hit rate"):
		return AlertLowHitRate, SeverityWarning
	case strings.HasPrefix(issue, "average response time"), strings.HasPrefix(issue, "remote ping"):
		return AlertSlowResponse, SeverityWarning
	case strings.HasPrefix(issue, "key count"):
		return AlertKeyCount, SeverityWarning
	case strings.HasPrefix(issue, "estimated memory"):
		return AlertMemory, SeverityCritical
	case strings.HasPrefix(issue, "remote tier"):
		return AlertRemoteDown, SeverityCritical
	default:
		return AlertType("unknown"), SeverityWarning
	}
}
