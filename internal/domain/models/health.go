package models

import "time"

// HealthState of a source adapter.
type HealthState int32

const (
	Healthy HealthState = iota
	Degraded
	Down
)

func (s HealthState) String() string {
	switch s {
	case Healthy:
		return "healthy"
	case Degraded:
		return "degraded"
	case Down:
		return "down"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON.
func (s HealthState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// SourceHealth is a point-in-time view of one adapter's health.
type SourceHealth struct {
	AdapterID           string      `json:"adapter_id" example:"binance"`
	Priority            int         `json:"priority" example:"1"`
	State               HealthState `json:"state" swaggertype:"string" example:"healthy"`
	ConsecutiveFailures int         `json:"consecutive_failures"`
	LastSuccess         *time.Time  `json:"last_success,omitempty"`
	DownUntil           *time.Time  `json:"down_until,omitempty"`
}
