package domain

// Account is the resolved per-account device configuration. Resolved once at
// session start; a running session never re-reads it.
type Account struct {
	ID      string `json:"id"`
	BaseURL string `json:"baseUrl"`
	Token   string `json:"token,omitempty"`
	WaitSec int    `json:"waitSec"`
	Emoji   string `json:"emoji,omitempty"`
	Enabled bool   `json:"enabled"`
}
