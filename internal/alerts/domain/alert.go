package alerts

import "time"

const (
	StatusActive       = "active"
	StatusAcknowledged = "acknowledged"
	StatusResolved     = "resolved"
)

// ValidStatus reports whether status names a known alert state.
func ValidStatus(status string) bool {
	switch status {
	case StatusActive, StatusAcknowledged, StatusResolved:
		return true
	default:
		return false
	}
}

// Alert represents an alert instance raised from a rule evaluation.
type Alert struct {
	ID              string    `json:"id"`
	DeviceID        string    `json:"device_id"`
	SensorID        string    `json:"sensor_id"`
	SensorRuleID    string    `json:"sensor_rule_id"`
	LocationID      string    `json:"location_id,omitempty"`
	Severity        string    `json:"severity"`
	Message         string    `json:"message"`
	Status          string    `json:"status"`
	Value           float64   `json:"value"`
	TriggeredAt     time.Time `json:"triggered_at"`
	AcknowledgedAt  time.Time `json:"acknowledged_at,omitempty"`
	AcknowledgedBy  string    `json:"acknowledged_by,omitempty"`
	ResolvedAt      time.Time `json:"resolved_at,omitempty"`
	ResolvedBy      string    `json:"resolved_by,omitempty"`
	EscalationLevel int       `json:"escalation_level"`
	LastEscalatedAt time.Time `json:"last_escalated_at,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Open reports whether the alert still needs attention.
func (a Alert) Open() bool {
	return a.Status == StatusActive || a.Status == StatusAcknowledged
}
