package ota

import (
	"context"
	"fmt"
	"sync"

	"github.com/looplab/fsm"

	fsmutil "github.com/autopeer-io/otaagent/internal/pkg/util/fsm"
)

// Phase is the lifecycle position of an update session.
type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhaseConnecting  Phase = "connecting"
	PhaseDownloading Phase = "downloading"
	PhaseFinalizing  Phase = "finalizing"
	PhaseCompleted   Phase = "completed"
	PhaseRestarting  Phase = "restarting"
	PhaseFailed      Phase = "failed"
)

const (
	eventConnect  = "connect"
	eventDownload = "download"
	eventFinalize = "finalize"
	eventComplete = "complete"
	eventRestart  = "restart"
	eventFail     = "fail"
)

// Snapshot is a point-in-time copy of a session.
type Snapshot struct {
	URL          string
	Phase        Phase
	TotalBytes   int64
	BytesWritten int64
	Err          error
}

// Percent returns the download progress in the range [0, 100].
func (s Snapshot) Percent() int {
	if s.TotalBytes <= 0 {
		return 0
	}
	return int(s.BytesWritten * 100 / s.TotalBytes)
}

// Observer is notified on every phase change and progress step.
// It runs on the goroutine driving the update.
type Observer func(Snapshot)

// Session tracks one update attempt.
type Session struct {
	mu           sync.Mutex
	url          string
	totalBytes   int64
	bytesWritten int64
	err          error

	machine   *fsm.FSM
	observers []Observer
}

func newSession(url string, observers []Observer) *Session {
	s := &Session{
		url:       url,
		observers: observers,
	}

	s.machine = fsm.NewFSM(
		string(PhaseIdle),
		fsm.Events{
			{Name: eventConnect, Src: []string{string(PhaseIdle)}, Dst: string(PhaseConnecting)},
			{Name: eventDownload, Src: []string{string(PhaseConnecting)}, Dst: string(PhaseDownloading)},
			{Name: eventFinalize, Src: []string{string(PhaseDownloading)}, Dst: string(PhaseFinalizing)},
			{Name: eventComplete, Src: []string{string(PhaseFinalizing)}, Dst: string(PhaseCompleted)},
			{Name: eventRestart, Src: []string{string(PhaseCompleted)}, Dst: string(PhaseRestarting)},
			{Name: eventFail, Src: []string{
				string(PhaseIdle),
				string(PhaseConnecting),
				string(PhaseDownloading),
				string(PhaseFinalizing),
				string(PhaseCompleted),
				string(PhaseRestarting),
			}, Dst: string(PhaseFailed)},
		},
		fsm.Callbacks{
			fsmutil.BeforeEvent(eventFinalize): fsmutil.WrapEvent(s.checkComplete),
			fsmutil.EnterAnyState: func(_ context.Context, e *fsm.Event) {
				s.notify(Phase(e.Dst))
			},
		},
	)

	return s
}

// Phase returns the current phase.
func (s *Session) Phase() Phase {
	return Phase(s.machine.Current())
}

// Snapshot returns a copy of the session state.
func (s *Session) Snapshot() Snapshot {
	return s.snapshot(s.Phase())
}

func (s *Session) snapshot(phase Phase) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		URL:          s.url,
		Phase:        phase,
		TotalBytes:   s.totalBytes,
		BytesWritten: s.bytesWritten,
		Err:          s.err,
	}
}

func (s *Session) notify(phase Phase) {
	snap := s.snapshot(phase)
	for _, o := range s.observers {
		o(snap)
	}
}

func (s *Session) transition(ctx context.Context, event string) error {
	if err := s.machine.Event(ctx, event); err != nil {
		return fmt.Errorf("session %s -> %s: %w", s.Phase(), event, err)
	}
	return nil
}

func (s *Session) setTotal(total int64) {
	s.mu.Lock()
	s.totalBytes = total
	s.mu.Unlock()
}

func (s *Session) setWritten(written int64) {
	s.mu.Lock()
	s.bytesWritten = written
	s.mu.Unlock()
	s.notify(s.Phase())
}

// fail records err and moves the session to PhaseFailed.
func (s *Session) fail(ctx context.Context, err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	if s.Phase() != PhaseFailed {
		_ = s.machine.Event(ctx, eventFail)
	}
}

// checkComplete guards finalization: every declared byte must be written.
func (s *Session) checkComplete(_ context.Context, _ *fsm.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bytesWritten != s.totalBytes {
		return fmt.Errorf("wrote %d of %d bytes", s.bytesWritten, s.totalBytes)
	}
	return nil
}
