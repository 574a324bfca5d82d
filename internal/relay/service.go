// Package relay owns the per-account bridge sessions: each session runs a
// long-poll loop against its device plus a concurrent pairing watch over
// the gateway logs. The Service front implements the host-facing bridge
// surface (resolve accounts, push sends, start sessions, report status).
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"whisplayim/internal/config"
	"whisplayim/internal/device"
	"whisplayim/internal/domain"
	"whisplayim/internal/journal"
	"whisplayim/internal/metrics"
	"whisplayim/internal/pipeline"
)

// BridgeName identifies this bridge to the host.
const BridgeName = "whisplay-im"

// Service implements domain.Bridge on top of the loaded config. One Service
// manages every account session in the process; the status registry is
// mutex-guarded because host calls race session writers.
type Service struct {
	cfg      *config.Config
	pipeline domain.ReplyPipeline
	journal  *journal.Store
	logger   *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	statuses map[string]domain.RuntimeStatus
	wg       sync.WaitGroup
}

// Config assembles a Service. Journal may be nil (event recording is then
// skipped); a nil Pipeline falls back to the local echo pipeline.
type Config struct {
	Config   *config.Config
	Pipeline domain.ReplyPipeline
	Journal  *journal.Store
	Logger   *slog.Logger
}

func NewService(cfg Config) *Service {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Pipeline == nil {
		cfg.Pipeline = pipeline.Echo{}
	}
	return &Service{
		cfg:      cfg.Config,
		pipeline: cfg.Pipeline,
		journal:  cfg.Journal,
		logger:   cfg.Logger,
		sessions: make(map[string]*Session),
		statuses: make(map[string]domain.RuntimeStatus),
	}
}

func (s *Service) Name() string { return BridgeName }

// ResolveAccount applies the config precedence rules and reports whether
// the result is usable, meaning its base URL normalizes.
func (s *Service) ResolveAccount(accountID string) (domain.Account, error) {
	acct := s.cfg.Resolve(accountID)
	if _, err := device.NormalizeBaseURL(acct.BaseURL); err != nil {
		return acct, fmt.Errorf("account %q: %w", acct.ID, err)
	}
	return acct, nil
}

func (s *Service) ListAccounts() []string { return s.cfg.ListAccounts() }

// SendText pushes one host-initiated reply to the account's device.
func (s *Service) SendText(ctx context.Context, accountID, text string) error {
	acct := s.cfg.Resolve(accountID)
	client, err := device.NewClient(device.Config{Account: acct, Logger: s.logger})
	if err != nil {
		return fmt.Errorf("account %q: %w", acct.ID, err)
	}
	if err := client.Send(ctx, text); err != nil {
		metrics.SendErrorsTotal.Inc()
		return err
	}
	metrics.RepliesSentTotal.Inc()
	s.updateStatus(acct.ID, func(st *domain.RuntimeStatus) {
		st.LastOutboundAt = time.Now()
	})
	s.record(acct.ID, journal.KindReply, text)
	return nil
}

// StartSession validates the account and launches its session goroutine.
// The session runs until ctx is cancelled; Wait joins all sessions. A
// second start for an account whose session is still running is an error.
func (s *Service) StartSession(ctx context.Context, accountID string) error {
	acct := s.cfg.Resolve(accountID)
	client, err := device.NewClient(device.Config{Account: acct, Logger: s.logger})
	if err != nil {
		s.updateStatus(acct.ID, func(st *domain.RuntimeStatus) {
			st.Configured = false
			st.LastError = err.Error()
		})
		return fmt.Errorf("account %q: %w", acct.ID, err)
	}

	sess := newSession(s, acct, client)

	s.mu.Lock()
	if _, running := s.sessions[acct.ID]; running {
		s.mu.Unlock()
		return fmt.Errorf("account %q: session already running", acct.ID)
	}
	s.sessions[acct.ID] = sess
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		sess.Run(ctx)
		s.mu.Lock()
		delete(s.sessions, acct.ID)
		s.mu.Unlock()
	}()
	return nil
}

// ReportStatus returns the account's runtime status by value.
func (s *Service) ReportStatus(accountID string) domain.RuntimeStatus {
	if accountID == "" {
		accountID = config.DefaultAccountID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statuses[accountID]
}

// Wait blocks until every session goroutine has exited.
func (s *Service) Wait() { s.wg.Wait() }

// updateStatus applies fn to the account's status entry under the lock.
// Writes are last-write-wins on the whole entry.
func (s *Service) updateStatus(accountID string, fn func(*domain.RuntimeStatus)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.statuses[accountID]
	fn(&st)
	s.statuses[accountID] = st
}

// record writes a journal event. The journal is best-effort: a nil store
// or a failed write never disturbs the relay, and a background context
// keeps shutdown events recordable after the session context dies.
func (s *Service) record(accountID, kind, body string) {
	if s.journal == nil {
		return
	}
	if err := s.journal.Record(context.Background(), accountID, kind, body); err != nil {
		s.logger.Warn("journal write failed", "account", accountID, "kind", kind, "err", err)
	}
}
