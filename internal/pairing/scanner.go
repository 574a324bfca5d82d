// Package pairing extracts device-pairing alerts from the gateway's log
// files: approval requests awaiting confirmation and setup codes shown
// during pairing.
package pairing

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"whisplayim/internal/domain"
)

const (
	// markerRequired qualifies a line, matched case-sensitively.
	markerRequired = "pairing-required"
	// markerSetup qualifies a line, matched case-insensitively.
	markerSetup = "setup code"

	// DefaultLookback bounds how far back a scan reaches when the caller
	// supplies no cutoff (one-shot scans without a session start).
	DefaultLookback = 15 * time.Minute
)

var (
	requestIDPattern = regexp.MustCompile(`requestId["']?\s*[:=]\s*["']?([0-9a-fA-F-]{16,})`)
	setupCodePattern = regexp.MustCompile(`(?i)setup[ \t]*code(?-i)[^A-Z0-9]{0,40}([A-Z0-9][A-Z0-9-]{3,})`)
	timestampPattern = regexp.MustCompile(`"timestamp"\s*:\s*"([^"]+)"`)
)

// Scan splits logText into lines and returns at most one alert per
// qualifying line. Lines whose embedded timestamp is strictly older than
// since are discarded; lines without a parseable timestamp are kept. A zero
// since applies the default lookback from the current time.
func Scan(logText string, since time.Time) []domain.PairingAlert {
	if since.IsZero() {
		since = time.Now().Add(-DefaultLookback)
	}

	var alerts []domain.PairingAlert
	for _, line := range strings.Split(logText, "\n") {
		if alert, ok := scanLine(line, since); ok {
			alerts = append(alerts, alert)
		}
	}
	return alerts
}

func scanLine(line string, since time.Time) (domain.PairingAlert, bool) {
	hasRequired := strings.Contains(line, markerRequired)
	hasSetup := strings.Contains(strings.ToLower(line), markerSetup)
	if !hasRequired && !hasSetup {
		return domain.PairingAlert{}, false
	}

	if ts, ok := lineTimestamp(line); ok && ts.Before(since) {
		return domain.PairingAlert{}, false
	}

	if m := requestIDPattern.FindStringSubmatch(line); m != nil {
		id := m[1]
		return domain.PairingAlert{
			DedupeKey: "request:" + id,
			Message:   fmt.Sprintf("Pairing request %s is waiting for approval on the gateway.", id),
		}, true
	}

	if m := setupCodePattern.FindStringSubmatch(line); m != nil {
		code := m[1]
		return domain.PairingAlert{
			DedupeKey: "code:" + code,
			Message:   fmt.Sprintf("Your device setup code is %s.", code),
		}, true
	}

	return domain.PairingAlert{}, false
}

// lineTimestamp extracts an embedded "timestamp":"..." field. Unparseable
// values read as absent so the line survives the age filter.
func lineTimestamp(line string) (time.Time, bool) {
	m := timestampPattern.FindStringSubmatch(line)
	if m == nil {
		return time.Time{}, false
	}
	ts, err := time.Parse(time.RFC3339, m[1])
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}
