package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"whisplayim/internal/config"
	"whisplayim/internal/device"
	"whisplayim/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// waitFor polls cond until it holds or the timeout expires.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

// recordingPipeline captures every inbound message and answers each with a
// single "re:<text>" payload.
type recordingPipeline struct {
	mu    sync.Mutex
	calls []domain.InboundMessage
}

func (p *recordingPipeline) Reply(_ context.Context, msg domain.InboundMessage) ([]domain.ReplyPayload, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, msg)
	return []domain.ReplyPayload{{Text: "re:" + msg.Text}}, nil
}

func (p *recordingPipeline) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func (p *recordingPipeline) texts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.calls))
	for i, c := range p.calls {
		out[i] = c.Text
	}
	return out
}

// deviceServer fakes the whisplay device: poll responses are scripted, send
// bodies are recorded.
type deviceServer struct {
	srv  *httptest.Server
	poll func() (int, string)

	mu    sync.Mutex
	sends []string
}

func newDeviceServer(t *testing.T, poll func() (int, string)) *deviceServer {
	t.Helper()
	d := &deviceServer{poll: poll}
	d.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/whisplay-im/poll":
			// Pace the relay's immediate re-poll a little.
			time.Sleep(2 * time.Millisecond)
			status, body := d.poll()
			w.WriteHeader(status)
			io.WriteString(w, body)
		case "/whisplay-im/send":
			var req struct {
				Reply string `json:"reply"`
			}
			json.NewDecoder(r.Body).Decode(&req)
			d.mu.Lock()
			d.sends = append(d.sends, req.Reply)
			d.mu.Unlock()
			io.WriteString(w, `{"ok":true}`)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(d.srv.Close)
	return d
}

func (d *deviceServer) sent() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.sends...)
}

func emptyPoll() (int, string) { return http.StatusOK, `{}` }

func testConfig(deviceURL string) *config.Config {
	cfg := config.Defaults()
	cfg.IP = deviceURL
	cfg.Pairing.Enabled = false
	cfg.Journal.Enabled = false
	return cfg
}

func testSession(t *testing.T, svc *Service) *Session {
	t.Helper()
	acct := svc.cfg.Resolve(config.DefaultAccountID)
	client, err := device.NewClient(device.Config{Account: acct, Logger: testLogger()})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	sess := newSession(svc, acct, client)
	sess.startedAt = time.Now()
	return sess
}

// --- pollCycle ---

func TestPollCycle_RelaysNewMessagesInOrder(t *testing.T) {
	dev := newDeviceServer(t, func() (int, string) {
		return http.StatusOK, `{"messages":[
			{"content":"old","id":"1"},
			{"content":"beta","id":"2"},
			{"content":"gamma","id":"3"}
		]}`
	})
	rec := &recordingPipeline{}
	svc := NewService(Config{Config: testConfig(dev.srv.URL), Pipeline: rec, Logger: testLogger()})
	sess := testSession(t, svc)

	// One message was seen in an earlier cycle.
	sess.seenInbound.Remember(domain.InboundMessage{Text: "old", ID: "1"}.DedupeKey())
	before := sess.seenInbound.Len()

	if err := sess.pollCycle(context.Background()); err != nil {
		t.Fatalf("poll cycle: %v", err)
	}

	got := rec.texts()
	if len(got) != 2 || got[0] != "beta" || got[1] != "gamma" {
		t.Fatalf("pipeline calls = %v, want [beta gamma]", got)
	}
	if grew := sess.seenInbound.Len() - before; grew != 2 {
		t.Errorf("seen set grew by %d, want 2", grew)
	}
	sends := dev.sent()
	if len(sends) != 2 || sends[0] != "re:beta" || sends[1] != "re:gamma" {
		t.Errorf("device sends = %v", sends)
	}
}

func TestPollCycle_EmptyResponseIsQuiet(t *testing.T) {
	dev := newDeviceServer(t, emptyPoll)
	rec := &recordingPipeline{}
	svc := NewService(Config{Config: testConfig(dev.srv.URL), Pipeline: rec, Logger: testLogger()})
	sess := testSession(t, svc)

	if err := sess.pollCycle(context.Background()); err != nil {
		t.Fatalf("poll cycle: %v", err)
	}
	if rec.count() != 0 {
		t.Errorf("pipeline should not run on empty response, got %d calls", rec.count())
	}
}

func TestPollCycle_DecodeFailureIsEmptyCycle(t *testing.T) {
	dev := newDeviceServer(t, func() (int, string) {
		return http.StatusOK, `not json at all`
	})
	svc := NewService(Config{Config: testConfig(dev.srv.URL), Pipeline: &recordingPipeline{}, Logger: testLogger()})
	sess := testSession(t, svc)

	if err := sess.pollCycle(context.Background()); err != nil {
		t.Fatalf("decode failure should not surface as an error, got %v", err)
	}
}

func TestPollCycle_TransportErrorSurfaces(t *testing.T) {
	dev := newDeviceServer(t, func() (int, string) {
		return http.StatusServiceUnavailable, `overloaded`
	})
	svc := NewService(Config{Config: testConfig(dev.srv.URL), Pipeline: &recordingPipeline{}, Logger: testLogger()})
	sess := testSession(t, svc)

	err := sess.pollCycle(context.Background())
	if err == nil {
		t.Fatal("expected transport error")
	}
	var terr *device.TransportError
	if !errors.As(err, &terr) {
		t.Fatalf("expected *device.TransportError, got %T", err)
	}
}

func TestPollCycle_SkipsEmptyReplyPayloads(t *testing.T) {
	dev := newDeviceServer(t, func() (int, string) {
		return http.StatusOK, `{"message":"ping"}`
	})
	empty := replyFunc(func(context.Context, domain.InboundMessage) ([]domain.ReplyPayload, error) {
		return []domain.ReplyPayload{{}, {Text: "  "}, {Text: "pong"}}, nil
	})
	svc := NewService(Config{Config: testConfig(dev.srv.URL), Pipeline: empty, Logger: testLogger()})
	sess := testSession(t, svc)

	if err := sess.pollCycle(context.Background()); err != nil {
		t.Fatalf("poll cycle: %v", err)
	}
	sends := dev.sent()
	if len(sends) != 1 || sends[0] != "pong" {
		t.Fatalf("device sends = %v, want only the non-empty payload", sends)
	}
}

// replyFunc adapts a function to domain.ReplyPipeline.
type replyFunc func(context.Context, domain.InboundMessage) ([]domain.ReplyPayload, error)

func (f replyFunc) Reply(ctx context.Context, msg domain.InboundMessage) ([]domain.ReplyPayload, error) {
	return f(ctx, msg)
}

// --- sessions ---

func TestStartSession_RelaysAndDeduplicatesAcrossCycles(t *testing.T) {
	var polls int
	var pollMu sync.Mutex
	dev := newDeviceServer(t, func() (int, string) {
		pollMu.Lock()
		defer pollMu.Unlock()
		polls++
		if polls <= 2 {
			// Same payload twice: the second cycle must dedupe both messages.
			return http.StatusOK, `{"messages":[{"content":"hi","id":"10"},{"content":"yo","id":"11"}]}`
		}
		return http.StatusOK, `{}`
	})

	rec := &recordingPipeline{}
	svc := NewService(Config{Config: testConfig(dev.srv.URL), Pipeline: rec, Logger: testLogger()})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := svc.StartSession(ctx, config.DefaultAccountID); err != nil {
		t.Fatalf("start session: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		pollMu.Lock()
		defer pollMu.Unlock()
		return polls > 3
	})
	cancel()
	svc.Wait()

	if rec.count() != 2 {
		t.Fatalf("pipeline calls = %d, want 2 (duplicates dropped)", rec.count())
	}
	got := rec.texts()
	if got[0] != "hi" || got[1] != "yo" {
		t.Errorf("pipeline order = %v", got)
	}
}

func TestStartSession_FinalStatusWrite(t *testing.T) {
	dev := newDeviceServer(t, emptyPoll)
	svc := NewService(Config{Config: testConfig(dev.srv.URL), Pipeline: &recordingPipeline{}, Logger: testLogger()})

	ctx, cancel := context.WithCancel(context.Background())
	if err := svc.StartSession(ctx, config.DefaultAccountID); err != nil {
		t.Fatalf("start session: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		return svc.ReportStatus(config.DefaultAccountID).Running
	})

	st := svc.ReportStatus(config.DefaultAccountID)
	if !st.Configured || st.Mode != "poll" || st.LastStartAt.IsZero() {
		t.Errorf("unexpected running status: %+v", st)
	}

	cancel()
	svc.Wait()

	st = svc.ReportStatus(config.DefaultAccountID)
	if st.Running {
		t.Error("status should show stopped after cancellation")
	}
	if st.LastStopAt.IsZero() {
		t.Error("final status write should set LastStopAt")
	}
}

func TestStartSession_BackoffOnTransportError(t *testing.T) {
	dev := newDeviceServer(t, func() (int, string) {
		return http.StatusServiceUnavailable, `down`
	})
	svc := NewService(Config{Config: testConfig(dev.srv.URL), Pipeline: &recordingPipeline{}, Logger: testLogger()})
	sess := testSession(t, svc)
	sess.backoff = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sess.Run(ctx)
		close(done)
	}()

	waitFor(t, 2*time.Second, func() bool {
		return svc.ReportStatus(config.DefaultAccountID).LastError != ""
	})
	st := svc.ReportStatus(config.DefaultAccountID)
	if !strings.Contains(st.LastError, "503") {
		t.Errorf("lastError = %q, want the device status in it", st.LastError)
	}
	if !st.Running {
		t.Error("session must keep running through backoff")
	}

	cancel()
	<-done
}

func TestStartSession_EmptyAddressFailsFatally(t *testing.T) {
	cfg := testConfig("")
	svc := NewService(Config{Config: cfg, Pipeline: &recordingPipeline{}, Logger: testLogger()})

	err := svc.StartSession(context.Background(), config.DefaultAccountID)
	if err == nil {
		t.Fatal("expected configuration error for empty address")
	}
	if !errors.Is(err, device.ErrNoAddress) {
		t.Fatalf("expected ErrNoAddress, got %v", err)
	}
	st := svc.ReportStatus(config.DefaultAccountID)
	if st.Configured {
		t.Error("status should show unconfigured")
	}
	if st.LastError == "" {
		t.Error("status should carry the configuration error")
	}
}

func TestStartSession_DuplicateIsAnError(t *testing.T) {
	dev := newDeviceServer(t, emptyPoll)
	svc := NewService(Config{Config: testConfig(dev.srv.URL), Pipeline: &recordingPipeline{}, Logger: testLogger()})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := svc.StartSession(ctx, config.DefaultAccountID); err != nil {
		t.Fatalf("first start: %v", err)
	}
	if err := svc.StartSession(ctx, config.DefaultAccountID); err == nil {
		t.Fatal("second start for the same account should fail")
	}

	cancel()
	svc.Wait()

	// After the session exits the account can be started again.
	ctx2, cancel2 := context.WithCancel(context.Background())
	defer cancel2()
	if err := svc.StartSession(ctx2, config.DefaultAccountID); err != nil {
		t.Fatalf("restart after stop: %v", err)
	}
	cancel2()
	svc.Wait()
}

// --- host surface ---

func TestSendText_OneShot(t *testing.T) {
	dev := newDeviceServer(t, emptyPoll)
	svc := NewService(Config{Config: testConfig(dev.srv.URL), Logger: testLogger()})

	if err := svc.SendText(context.Background(), config.DefaultAccountID, "direct push"); err != nil {
		t.Fatalf("send text: %v", err)
	}

	sends := dev.sent()
	if len(sends) != 1 || sends[0] != "direct push" {
		t.Fatalf("device sends = %v", sends)
	}
	if svc.ReportStatus(config.DefaultAccountID).LastOutboundAt.IsZero() {
		t.Error("LastOutboundAt should be set after a push")
	}
}

func TestResolveAccount_EmptyAddress(t *testing.T) {
	svc := NewService(Config{Config: testConfig(""), Logger: testLogger()})
	if _, err := svc.ResolveAccount(config.DefaultAccountID); err == nil {
		t.Fatal("expected error for unconfigured account")
	}
}

func TestResolveAccount_Valid(t *testing.T) {
	svc := NewService(Config{Config: testConfig("192.168.1.50:18888"), Logger: testLogger()})
	acct, err := svc.ResolveAccount(config.DefaultAccountID)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if acct.BaseURL != "192.168.1.50:18888" {
		t.Errorf("base url = %q", acct.BaseURL)
	}
}

func TestName_And_ListAccounts(t *testing.T) {
	cfg := testConfig("h:1")
	cfg.Accounts = map[string]config.AccountOverride{"b": {}, "a": {}}
	svc := NewService(Config{Config: cfg, Logger: testLogger()})

	if svc.Name() != "whisplay-im" {
		t.Errorf("name = %q", svc.Name())
	}
	ids := svc.ListAccounts()
	if len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Errorf("accounts = %v", ids)
	}
}

// --- pairing watch ---

func TestPairingWatch_RelaysFreshAlertOnce(t *testing.T) {
	logDir := t.TempDir()
	line := `WARN pairing-required requestId=abcdef0123456789` + "\n"
	if err := os.WriteFile(logDir+"/gateway-2026-08-23.log", []byte(line), 0o644); err != nil {
		t.Fatal(err)
	}

	dev := newDeviceServer(t, emptyPoll)
	cfg := testConfig(dev.srv.URL)
	cfg.Pairing.Enabled = true
	cfg.Pairing.LogDir = logDir
	svc := NewService(Config{Config: cfg, Pipeline: &recordingPipeline{}, Logger: testLogger()})

	sess := testSession(t, svc)
	sess.pairingInterval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sess.Run(ctx)
		close(done)
	}()

	waitFor(t, 2*time.Second, func() bool {
		for _, s := range dev.sent() {
			if strings.Contains(s, "abcdef0123456789") {
				return true
			}
		}
		return false
	})

	// Give the watch several more cycles; the alert must not repeat.
	time.Sleep(100 * time.Millisecond)
	var alerts int
	for _, s := range dev.sent() {
		if strings.Contains(s, "abcdef0123456789") {
			alerts++
		}
	}
	if alerts != 1 {
		t.Errorf("alert sent %d times, want exactly once", alerts)
	}

	cancel()
	<-done
}
