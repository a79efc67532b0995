package notify

import (
	"strings"
	"time"
)

// Severity selects the priority, duration and styling of a notification.
type Severity string

const (
	SeverityArrival Severity = "ARRIVAL"
	SeverityAlert   Severity = "ALERT"
	SeveritySuccess Severity = "SUCCESS"
	SeverityInfo    Severity = "INFO"
	SeverityWarning Severity = "WARNING"
)

type severityProfile struct {
	priority  string
	duration  time.Duration
	sound     string
	vibration []int
	color     string
}

var profiles = map[Severity]severityProfile{
	SeverityArrival: {priority: "high", duration: 6 * time.Second, sound: "arrival.mp3", vibration: []int{200, 100, 200}, color: "#FF9800"},
	SeverityAlert:   {priority: "high", duration: 5 * time.Second, sound: "alert.mp3", vibration: []int{100, 50, 100, 50, 100}, color: "#f44336"},
	SeveritySuccess: {priority: "normal", duration: 3 * time.Second, sound: "success.mp3", vibration: []int{100}, color: "#4CAF50"},
	SeverityInfo:    {priority: "low", duration: 3 * time.Second, color: "#2196F3"},
	SeverityWarning: {priority: "normal", duration: 4 * time.Second, sound: "warning.mp3", vibration: []int{150, 100, 150}, color: "#FF9800"},
}

func (s Severity) profile() severityProfile {
	if p, ok := profiles[s]; ok {
		return p
	}
	return profiles[SeverityInfo]
}

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	_, ok := profiles[s]
	return ok
}

// Duration is how long a toast of this severity stays up.
func (s Severity) Duration() time.Duration { return s.profile().duration }

func (s Severity) Priority() string { return s.profile().priority }

func (s Severity) Color() string { return s.profile().color }

// ParseSeverity accepts the upper-case names and the lower-case toast types
// used by the page ("success", "info", "error", "warning").
func ParseSeverity(v string) (Severity, bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "arrival":
		return SeverityArrival, true
	case "alert", "error":
		return SeverityAlert, true
	case "success":
		return SeveritySuccess, true
	case "info":
		return SeverityInfo, true
	case "warning":
		return SeverityWarning, true
	}
	return SeverityInfo, false
}
