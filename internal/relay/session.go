package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"whisplayim/internal/dedupe"
	"whisplayim/internal/device"
	"whisplayim/internal/domain"
	"whisplayim/internal/inbound"
	"whisplayim/internal/journal"
	"whisplayim/internal/metrics"
	"whisplayim/internal/pairing"
)

const (
	defaultErrorBackoff    = 2 * time.Second
	defaultPairingInterval = 5 * time.Second
)

// Session is one account's relay runtime: the polling loop plus the
// concurrent pairing watch, sharing a cancellation context and nothing
// else. Dedupe caches live and die with the session.
type Session struct {
	runID    string
	account  domain.Account
	client   *device.Client
	pipeline domain.ReplyPipeline
	service  *Service
	logger   *slog.Logger

	pairingEnabled  bool
	pairingSource   pairing.Source
	pairingInterval time.Duration
	backoff         time.Duration

	seenInbound *dedupe.SeenSet
	seenPairing *dedupe.SeenSet
	startedAt   time.Time
}

func newSession(svc *Service, acct domain.Account, client *device.Client) *Session {
	interval := defaultPairingInterval
	if svc.cfg.Pairing.ScanIntervalSec > 0 {
		interval = time.Duration(svc.cfg.Pairing.ScanIntervalSec) * time.Second
	}
	return &Session{
		runID:    uuid.NewString(),
		account:  acct,
		client:   client,
		pipeline: svc.pipeline,
		service:  svc,
		logger:   svc.logger.With("account", acct.ID),

		pairingEnabled:  svc.cfg.Pairing.Enabled && svc.cfg.Pairing.LogDir != "",
		pairingSource:   pairing.Source{Dir: svc.cfg.Pairing.LogDir},
		pairingInterval: interval,
		backoff:         defaultErrorBackoff,

		seenInbound: dedupe.NewSeenSet(dedupe.InboundCapacity),
		seenPairing: dedupe.NewSeenSet(dedupe.PairingCapacity),
	}
}

// Run drives the session until ctx is cancelled. The final status write is
// unconditional and happens only after the pairing watch has joined, so
// ReportStatus never shows a half-stopped session.
func (s *Session) Run(ctx context.Context) {
	s.startedAt = time.Now()
	s.service.updateStatus(s.account.ID, func(st *domain.RuntimeStatus) {
		st.Running = true
		st.Configured = true
		st.LastStartAt = s.startedAt
		st.LastError = ""
		st.Mode = "poll"
	})
	metrics.ActiveSessions.Inc()
	s.logger.Info("session started",
		"run", s.runID,
		"device", s.client.BaseURL(),
		"wait_sec", s.account.WaitSec,
	)
	s.service.record(s.account.ID, journal.KindSession, "started")

	defer func() {
		s.service.updateStatus(s.account.ID, func(st *domain.RuntimeStatus) {
			st.Running = false
			st.LastStopAt = time.Now()
		})
		metrics.ActiveSessions.Dec()
		s.logger.Info("session stopped", "run", s.runID)
		s.service.record(s.account.ID, journal.KindSession, "stopped")
	}()

	// Deferred after the status write above so it runs first on the way out.
	var wg sync.WaitGroup
	defer wg.Wait()

	if s.pairingEnabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.pairingWatch(ctx)
		}()
	}

	for {
		if ctx.Err() != nil {
			return
		}

		err := s.pollCycle(ctx)
		if err == nil {
			continue
		}
		if errors.Is(err, context.Canceled) {
			return
		}

		s.service.updateStatus(s.account.ID, func(st *domain.RuntimeStatus) {
			st.LastError = err.Error()
		})
		s.logger.Warn("poll cycle failed", "run", s.runID, "err", err)
		s.service.record(s.account.ID, journal.KindError, err.Error())

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.backoff):
		}
	}
}

// pollCycle runs one pass of the Polling state: poll, normalize, dedupe,
// reply, send. An undecodable response counts as an empty cycle rather
// than an error so the loop stays alive.
func (s *Session) pollCycle(ctx context.Context) error {
	start := time.Now()
	payload, err := s.client.Poll(ctx)
	metrics.PollsTotal.Inc()
	if err != nil {
		var decodeErr *device.DecodeError
		if errors.As(err, &decodeErr) {
			metrics.DecodeErrorsTotal.Inc()
			s.logger.Debug("undecodable poll response treated as empty", "err", err)
			return nil
		}
		if !errors.Is(err, context.Canceled) {
			metrics.PollErrorsTotal.Inc()
		}
		return err
	}
	metrics.PollLatency.Observe(time.Since(start).Seconds())

	for _, msg := range inbound.Normalize(payload) {
		if err := ctx.Err(); err != nil {
			return err
		}

		key := msg.DedupeKey()
		if s.seenInbound.Seen(key) {
			metrics.DedupedTotal.Inc()
			s.logger.Debug("duplicate inbound dropped", "key", key)
			continue
		}
		s.seenInbound.Remember(key)
		metrics.InboundTotal.Inc()
		s.service.updateStatus(s.account.ID, func(st *domain.RuntimeStatus) {
			st.LastInboundAt = time.Now()
		})
		s.service.record(s.account.ID, journal.KindInbound, msg.Text)

		msg.Account = s.account.ID
		replies, err := s.pipeline.Reply(ctx, msg)
		if err != nil {
			return fmt.Errorf("reply pipeline: %w", err)
		}
		for _, rp := range replies {
			body := rp.Body()
			if body == "" {
				continue
			}
			if err := s.client.Send(ctx, body); err != nil {
				if !errors.Is(err, context.Canceled) {
					metrics.SendErrorsTotal.Inc()
				}
				return err
			}
			metrics.RepliesSentTotal.Inc()
			s.service.updateStatus(s.account.ID, func(st *domain.RuntimeStatus) {
				st.LastOutboundAt = time.Now()
			})
			s.service.record(s.account.ID, journal.KindReply, body)
		}
	}
	return nil
}

// pairingWatch periodically tails the gateway log and pushes fresh pairing
// alerts to the device. Errors inside one cycle are logged and swallowed;
// only the shared cancellation stops the watch.
func (s *Session) pairingWatch(ctx context.Context) {
	ticker := time.NewTicker(s.pairingInterval)
	defer ticker.Stop()

	s.logger.Debug("pairing watch started", "dir", s.pairingSource.Dir, "interval", s.pairingInterval)
	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("pairing watch stopped")
			return
		case <-ticker.C:
			s.pairingScan(ctx)
		}
	}
}

func (s *Session) pairingScan(ctx context.Context) {
	logText, err := s.pairingSource.Tail()
	if err != nil {
		s.logger.Warn("gateway log read failed", "err", err)
		return
	}
	if logText == "" {
		return
	}

	for _, alert := range pairing.Scan(logText, s.startedAt) {
		if s.seenPairing.Seen(alert.DedupeKey) {
			continue
		}
		if err := s.client.Send(ctx, alert.Message); err != nil {
			if !errors.Is(err, context.Canceled) {
				metrics.SendErrorsTotal.Inc()
				s.logger.Warn("pairing alert send failed", "key", alert.DedupeKey, "err", err)
			}
			continue
		}
		// Remembered only after a successful send so a failed alert is
		// retried on the next scan.
		s.seenPairing.Remember(alert.DedupeKey)
		metrics.PairingAlertsTotal.Inc()
		s.service.updateStatus(s.account.ID, func(st *domain.RuntimeStatus) {
			st.LastOutboundAt = time.Now()
		})
		s.service.record(s.account.ID, journal.KindPairingAlert, alert.Message)
		s.logger.Info("pairing alert relayed", "run", s.runID, "key", alert.DedupeKey)
	}
}
