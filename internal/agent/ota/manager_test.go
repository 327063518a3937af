package ota

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"sync"
	"testing"

	"github.com/autopeer-io/otaagent/internal/agent/core"
)

type sentMessage struct {
	event core.EventType
	msg   any
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (s *fakeSender) Send(_ context.Context, event core.EventType, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sentMessage{event, payload})
	return nil
}

func (s *fakeSender) SendJSON(_ context.Context, event core.EventType, msg any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sentMessage{event, msg})
	return nil
}

func (s *fakeSender) statuses() []core.CommandState {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.CommandState
	for _, m := range s.sent {
		if ack, ok := m.msg.(*core.CommandStatus); ok {
			out = append(out, ack.Status)
		}
	}
	return out
}

func (s *fakeSender) progress() []*core.Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*core.Progress
	for _, m := range s.sent {
		if p, ok := m.msg.(*core.Progress); ok {
			out = append(out, p)
		}
	}
	return out
}

type fakeUpdater struct {
	observers []Observer
	block     chan struct{}

	updated bool
	err     error

	versioned   []string
	unversioned []string
}

func (u *fakeUpdater) AddObserver(o Observer) {
	u.observers = append(u.observers, o)
}

func (u *fakeUpdater) BeginVersionedUpdate(_ context.Context, target, url string) (bool, error) {
	if u.block != nil {
		<-u.block
	}
	u.versioned = append(u.versioned, target+"@"+url)
	for _, o := range u.observers {
		o(Snapshot{URL: url, Phase: PhaseDownloading, TotalBytes: 200, BytesWritten: 100})
		if u.updated {
			o(Snapshot{URL: url, Phase: PhaseRestarting, TotalBytes: 200, BytesWritten: 200})
		}
	}
	return u.updated, u.err
}

func (u *fakeUpdater) PerformUpdateAndRestart(_ context.Context, url string) error {
	u.unversioned = append(u.unversioned, url)
	return u.err
}

func newTestManager(t *testing.T, updater *fakeUpdater) (*Manager, *fakeSender) {
	t.Helper()
	sender := &fakeSender{}
	m := NewManager(updater, nil)
	if err := m.Setup(context.Background(), sender); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	return m, sender
}

func otaCommand(id, version, url string) *core.Command {
	params := map[string]string{"url": url}
	if version != "" {
		params["version"] = version
	}
	return &core.Command{CommandID: id, Type: CommandTypeOTA, Parameters: params}
}

func TestHandleCommandIgnoresOtherTypes(t *testing.T) {
	updater := &fakeUpdater{}
	m, sender := newTestManager(t, updater)

	if err := m.HandleCommand(context.Background(), &core.Command{CommandID: "c-1", Type: "Reboot"}); err != nil {
		t.Fatalf("HandleCommand() error = %v", err)
	}
	m.Wait()
	if len(sender.sent) != 0 || len(updater.versioned) != 0 {
		t.Errorf("unexpected activity: sent=%v versioned=%v", sender.sent, updater.versioned)
	}
}

func TestHandleCommandRequiresURL(t *testing.T) {
	m, sender := newTestManager(t, &fakeUpdater{})

	cmd := &core.Command{CommandID: "c-1", Type: CommandTypeOTA, Parameters: map[string]string{"version": "2.0"}}
	if err := m.HandleCommand(context.Background(), cmd); err == nil {
		t.Fatal("expected an error")
	}
	if got := sender.statuses(); !reflect.DeepEqual(got, []core.CommandState{core.CommandFailed}) {
		t.Errorf("acks = %v", got)
	}
}

func TestHandleCommandVersioned(t *testing.T) {
	tests := []struct {
		name    string
		updater *fakeUpdater
		want    []core.CommandState
	}{
		{
			name:    "installed",
			updater: &fakeUpdater{updated: true},
			want:    []core.CommandState{core.CommandReceived, core.CommandRunning, core.CommandRunning, core.CommandSucceeded},
		},
		{
			name:    "up to date",
			updater: &fakeUpdater{},
			want:    []core.CommandState{core.CommandReceived, core.CommandRunning, core.CommandUpToDate},
		},
		{
			name:    "failed",
			updater: &fakeUpdater{err: ErrFinalizeFailed},
			want:    []core.CommandState{core.CommandReceived, core.CommandRunning, core.CommandFailed},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, sender := newTestManager(t, tt.updater)

			if err := m.HandleCommand(context.Background(), otaCommand("c-1", "2.0", fwURL)); err != nil {
				t.Fatalf("HandleCommand() error = %v", err)
			}
			m.Wait()

			if got := sender.statuses(); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("acks = %v, want %v", got, tt.want)
			}
			if !reflect.DeepEqual(tt.updater.versioned, []string{"2.0@" + fwURL}) {
				t.Errorf("versioned updates = %v", tt.updater.versioned)
			}

			progress := sender.progress()
			if len(progress) != 1 || progress[0].Percentage != 50 || progress[0].CommandID != "c-1" {
				t.Errorf("progress = %+v", progress)
			}
		})
	}
}

func TestHandleCommandWithoutVersionRestartsUnconditionally(t *testing.T) {
	updater := &fakeUpdater{}
	m, sender := newTestManager(t, updater)

	if err := m.HandleCommand(context.Background(), otaCommand("c-1", "", fwURL)); err != nil {
		t.Fatalf("HandleCommand() error = %v", err)
	}
	m.Wait()

	if !reflect.DeepEqual(updater.unversioned, []string{fwURL}) || len(updater.versioned) != 0 {
		t.Errorf("unversioned = %v versioned = %v", updater.unversioned, updater.versioned)
	}
	want := []core.CommandState{core.CommandReceived, core.CommandRunning, core.CommandSucceeded}
	if got := sender.statuses(); !reflect.DeepEqual(got, want) {
		t.Errorf("acks = %v, want %v", got, want)
	}
}

func TestHandleCommandRejectsConcurrentUpdate(t *testing.T) {
	updater := &fakeUpdater{block: make(chan struct{}), updated: true}
	m, _ := newTestManager(t, updater)

	if err := m.HandleCommand(context.Background(), otaCommand("c-1", "2.0", fwURL)); err != nil {
		t.Fatalf("first command error = %v", err)
	}

	err := m.HandleCommand(context.Background(), otaCommand("c-2", "3.0", fwURL))
	if !errors.Is(err, ErrUpdateInProgress) {
		t.Fatalf("second command error = %v, want ErrUpdateInProgress", err)
	}

	close(updater.block)
	m.Wait()

	if err := m.HandleCommand(context.Background(), otaCommand("c-3", "3.0", fwURL)); err != nil {
		t.Fatalf("command after completion error = %v", err)
	}
	m.Wait()
	if len(updater.versioned) != 2 {
		t.Errorf("versioned updates = %v, want 2", updater.versioned)
	}
}

func TestRoutesDecodeJSONCommands(t *testing.T) {
	updater := &fakeUpdater{updated: true}
	m, _ := newTestManager(t, updater)

	payload, _ := json.Marshal(otaCommand("c-1", "2.0", fwURL))
	handler, ok := m.Routes()[core.EventOTACommand]
	if !ok {
		t.Fatal("no route for OTA commands")
	}
	if err := handler(context.Background(), payload); err != nil {
		t.Fatalf("handler error = %v", err)
	}
	m.Wait()

	if len(updater.versioned) != 1 {
		t.Errorf("versioned updates = %v, want 1", updater.versioned)
	}
	if err := handler(context.Background(), []byte("{not json")); err == nil {
		t.Error("expected a decode error")
	}
}
