package ota

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"k8s.io/utils/clock"

	"github.com/autopeer-io/otaagent/internal/agent/core"
	"github.com/autopeer-io/otaagent/internal/pkg/metrics"
	"github.com/autopeer-io/otaagent/pkg/log"
)

const (
	// DefaultNamespace is the store namespace holding the update bookkeeping.
	DefaultNamespace = "OTAUpdate"

	KeyAppVersion        = "appVersion"
	KeyPendingValidation = "pendingValidation"
)

// Dependencies are the collaborators an Updater drives.
type Dependencies struct {
	Transport core.Transport
	Sink      core.FlashSink
	Store     core.Store
	Restarter core.Restarter
	Rollback  core.RollbackPlatform

	// Locator is optional; without it URLs are fetched as given.
	Locator core.Locator
}

// Updater downloads firmware into the flash sink and keeps the persisted
// version and pending-validation flag consistent with what was installed.
//
// Version-gated updates are not serialized internally; callers must not run
// two of them concurrently.
type Updater struct {
	deps Dependencies

	namespace    string
	maxRedirects int
	dlConfig     DownloaderConfig

	resolver   *Resolver
	downloader *Downloader

	clock     clock.Clock
	logger    log.Logger
	observers []Observer
}

type Option func(*Updater)

func WithNamespace(ns string) Option {
	return func(u *Updater) { u.namespace = ns }
}

func WithIdleTimeout(d time.Duration) Option {
	return func(u *Updater) { u.dlConfig.IdleTimeout = d }
}

func WithChunkSize(n int) Option {
	return func(u *Updater) { u.dlConfig.ChunkSize = n }
}

func WithProgressStep(pct int) Option {
	return func(u *Updater) { u.dlConfig.ProgressStep = pct }
}

func WithMaxRedirects(n int) Option {
	return func(u *Updater) { u.maxRedirects = n }
}

func WithYielder(y Yielder) Option {
	return func(u *Updater) { u.dlConfig.Yielder = y }
}

func WithClock(clk clock.Clock) Option {
	return func(u *Updater) { u.clock = clk }
}

func WithLogger(l log.Logger) Option {
	return func(u *Updater) { u.logger = l }
}

func WithObserver(o Observer) Option {
	return func(u *Updater) { u.observers = append(u.observers, o) }
}

// NewUpdater builds an Updater. WithIdleTimeout is required.
func NewUpdater(deps Dependencies, opts ...Option) (*Updater, error) {
	u := &Updater{
		deps:         deps,
		namespace:    DefaultNamespace,
		maxRedirects: DefaultMaxRedirects,
		clock:        clock.RealClock{},
		logger:       log.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(u)
	}

	switch {
	case deps.Transport == nil:
		return nil, errors.New("transport is required")
	case deps.Sink == nil:
		return nil, errors.New("flash sink is required")
	case deps.Store == nil:
		return nil, errors.New("store is required")
	case deps.Restarter == nil:
		return nil, errors.New("restarter is required")
	case deps.Rollback == nil:
		return nil, errors.New("rollback platform is required")
	case u.namespace == "":
		return nil, errors.New("store namespace is required")
	}

	u.dlConfig.Clock = u.clock
	u.dlConfig.Logger = u.logger
	dl, err := NewDownloader(u.dlConfig)
	if err != nil {
		return nil, err
	}
	u.downloader = dl
	u.resolver = NewResolver(deps.Transport, u.maxRedirects, u.logger)

	return u, nil
}

// AddObserver registers o for sessions started after the call.
func (u *Updater) AddObserver(o Observer) {
	u.observers = append(u.observers, o)
}

// PerformUpdate downloads the image at url and writes it to the inactive bank.
// It neither restarts nor touches persisted state.
func (u *Updater) PerformUpdate(ctx context.Context, url string) error {
	_, err := u.run(ctx, url)
	if err != nil {
		metrics.UpdateAttemptsTotal.WithLabelValues("failed").Inc()
		return err
	}
	metrics.UpdateAttemptsTotal.WithLabelValues("succeeded").Inc()
	return nil
}

// PerformUpdateAndRestart runs PerformUpdate and restarts once the image is ready to boot.
func (u *Updater) PerformUpdateAndRestart(ctx context.Context, url string) error {
	s, err := u.run(ctx, url)
	if err != nil {
		metrics.UpdateAttemptsTotal.WithLabelValues("failed").Inc()
		return err
	}
	metrics.UpdateAttemptsTotal.WithLabelValues("succeeded").Inc()
	return u.restart(ctx, s)
}

// BeginVersionedUpdate installs the image at url when target differs from the
// persisted version. It reports whether an update was installed.
//
// The new version and pendingValidation=true are committed before the restart is
// requested. A crash between the commit and the restart leaves the flag set
// while the boot record already points at the new image.
func (u *Updater) BeginVersionedUpdate(ctx context.Context, target, url string) (bool, error) {
	ns, err := u.deps.Store.Open(u.namespace, false)
	if err != nil {
		return false, fmt.Errorf("open namespace %q: %w", u.namespace, err)
	}

	current := ns.String(KeyAppVersion, "")
	if !ShouldUpdate(current, target) {
		u.logger.Info("Firmware is up to date", "version", current)
		metrics.UpdateAttemptsTotal.WithLabelValues("up_to_date").Inc()
		return false, ns.Close()
	}

	u.logger.Info("Version mismatch, starting update", "current", current, "target", target)

	s, err := u.run(ctx, url)
	if err == nil {
		err = u.commit(ns, current, target)
		if err != nil {
			s.fail(ctx, err)
		}
	}
	if cerr := ns.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("commit namespace %q: %w", u.namespace, cerr)
		s.fail(ctx, err)
	}
	if err != nil {
		metrics.UpdateAttemptsTotal.WithLabelValues("failed").Inc()
		return false, err
	}
	metrics.UpdateAttemptsTotal.WithLabelValues("succeeded").Inc()

	u.logger.Info("Update successful, restarting", "version", target)
	return true, u.restart(ctx, s)
}

// commit persists the installed version and raises the pending flag.
// If raising the flag fails the previous version is put back.
func (u *Updater) commit(ns core.Namespace, previous, target string) error {
	if !u.deps.Sink.IsFinished() {
		return fmt.Errorf("%w: image not ready to boot", ErrFinalizeFailed)
	}
	if err := ns.PutString(KeyAppVersion, target); err != nil {
		return fmt.Errorf("persist %s: %w", KeyAppVersion, err)
	}
	if err := ns.PutBool(KeyPendingValidation, true); err != nil {
		if rerr := ns.PutString(KeyAppVersion, previous); rerr != nil {
			u.logger.Error(rerr, "Failed to restore previous version", "version", previous)
		}
		return fmt.Errorf("persist %s: %w", KeyPendingValidation, err)
	}
	return nil
}

// CurrentVersion returns the persisted firmware version, or "" if none was recorded.
func (u *Updater) CurrentVersion() (string, error) {
	ns, err := u.deps.Store.Open(u.namespace, true)
	if err != nil {
		return "", fmt.Errorf("open namespace %q: %w", u.namespace, err)
	}
	defer ns.Close()
	return ns.String(KeyAppVersion, ""), nil
}

// PendingValidation reports whether the running image still awaits MarkAsValid or MarkAsInvalid.
func (u *Updater) PendingValidation() (bool, error) {
	ns, err := u.deps.Store.Open(u.namespace, true)
	if err != nil {
		return false, fmt.Errorf("open namespace %q: %w", u.namespace, err)
	}
	defer ns.Close()
	return ns.Bool(KeyPendingValidation, false), nil
}

func (u *Updater) run(ctx context.Context, rawURL string) (*Session, error) {
	s := newSession(rawURL, u.observers)
	start := u.clock.Now()

	if err := u.download(ctx, s, rawURL); err != nil {
		s.fail(ctx, err)
		u.logger.Error(err, "Update failed", "url", rawURL)
		return s, err
	}

	metrics.DownloadDuration.Observe(u.clock.Since(start).Seconds())
	return s, nil
}

func (u *Updater) download(ctx context.Context, s *Session, rawURL string) error {
	if err := s.transition(ctx, eventConnect); err != nil {
		return err
	}

	target := rawURL
	if u.deps.Locator != nil {
		located, err := u.deps.Locator.Locate(ctx, rawURL)
		if err != nil {
			return fmt.Errorf("locate %s: %w", rawURL, err)
		}
		target = located
	}

	u.logger.Info("Starting update", "url", rawURL)

	resp, err := u.deps.Transport.Get(ctx, target)
	if err != nil {
		return &TransportError{URL: target, Err: err}
	}

	final, code, err := u.resolver.Resolve(ctx, resp)
	if err != nil {
		return err
	}
	defer final.Close()

	if code != http.StatusOK {
		return &StatusError{URL: final.URL(), StatusCode: code}
	}

	s.setTotal(final.ContentLength())
	if err := s.transition(ctx, eventDownload); err != nil {
		return err
	}

	sink := &sessionSink{FlashSink: u.deps.Sink, ctx: ctx, session: s}
	if _, err := u.downloader.Download(ctx, final, sink, func(written, _ int64) {
		s.setWritten(written)
	}); err != nil {
		return err
	}

	return s.transition(ctx, eventComplete)
}

func (u *Updater) restart(ctx context.Context, s *Session) error {
	if !u.deps.Sink.IsFinished() {
		err := fmt.Errorf("%w: image not ready to boot", ErrFinalizeFailed)
		s.fail(ctx, err)
		return err
	}
	if err := s.transition(ctx, eventRestart); err != nil {
		return err
	}
	if err := u.deps.Restarter.Restart(ctx); err != nil {
		s.fail(ctx, err)
		return fmt.Errorf("restart: %w", err)
	}
	return nil
}

// sessionSink moves the session to finalizing before the image is finalized.
type sessionSink struct {
	core.FlashSink
	ctx     context.Context
	session *Session
}

func (s *sessionSink) End() error {
	if err := s.session.transition(s.ctx, eventFinalize); err != nil {
		_ = s.FlashSink.Abort()
		return err
	}
	return s.FlashSink.End()
}
