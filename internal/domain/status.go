package domain

import "time"

// RuntimeStatus is the per-account session status record. Owned by the relay
// service's registry; callers receive value snapshots. Zero time values mean
// "never".
type RuntimeStatus struct {
	Running        bool      `json:"running"`
	Configured     bool      `json:"configured"`
	LastStartAt    time.Time `json:"lastStartAt,omitzero"`
	LastStopAt     time.Time `json:"lastStopAt,omitzero"`
	LastInboundAt  time.Time `json:"lastInboundAt,omitzero"`
	LastOutboundAt time.Time `json:"lastOutboundAt,omitzero"`
	LastError      string    `json:"lastError,omitempty"`
	Mode           string    `json:"mode,omitempty"`
}
