package ota

import (
	"context"
	"errors"
	"net/http"
	"reflect"
	"testing"
	"time"
)

const fwURL = "http://fw.local/fw.bin"

type harness struct {
	rec       *recorder
	transport *fakeTransport
	sink      *fakeSink
	store     *fakeStore
	restarter *fakeRestarter
	rollback  *fakeRollback
	phases    []Phase
	updater   *Updater
}

func newHarness(t *testing.T, transport *fakeTransport, opts ...Option) *harness {
	t.Helper()

	rec := &recorder{}
	h := &harness{
		rec:       rec,
		transport: transport,
		sink:      &fakeSink{rec: rec},
		store:     newFakeStore(rec),
		restarter: &fakeRestarter{rec: rec},
		rollback:  &fakeRollback{},
	}

	opts = append([]Option{
		WithIdleTimeout(time.Second),
		WithYielder(YieldFunc(func(ctx context.Context) error { return ctx.Err() })),
		WithObserver(func(s Snapshot) {
			if n := len(h.phases); n == 0 || h.phases[n-1] != s.Phase {
				h.phases = append(h.phases, s.Phase)
			}
		}),
	}, opts...)

	u, err := NewUpdater(Dependencies{
		Transport: transport,
		Sink:      h.sink,
		Store:     h.store,
		Restarter: h.restarter,
		Rollback:  h.rollback,
	}, opts...)
	if err != nil {
		t.Fatalf("NewUpdater() error = %v", err)
	}
	h.updater = u
	return h
}

func TestBeginVersionedUpdateCommitsThenRestarts(t *testing.T) {
	h := newHarness(t, serve(map[string]*fakeResponse{fwURL: okResponse(fwURL, firmware(256))}))
	h.store.strings[KeyAppVersion] = "1.0"

	updated, err := h.updater.BeginVersionedUpdate(context.Background(), "2.0", fwURL)
	if err != nil {
		t.Fatalf("BeginVersionedUpdate() error = %v", err)
	}
	if !updated {
		t.Fatal("expected an update")
	}

	if got := h.store.strings[KeyAppVersion]; got != "2.0" {
		t.Errorf("appVersion = %q, want 2.0", got)
	}
	if !h.store.bools[KeyPendingValidation] {
		t.Error("pendingValidation not set")
	}

	want := []string{
		"begin 256",
		"end",
		"put appVersion=2.0",
		"put pendingValidation=true",
		"close",
		"restart",
	}
	if got := h.rec.list(); !reflect.DeepEqual(got, want) {
		t.Errorf("side effects = %v, want %v", got, want)
	}

	wantPhases := []Phase{PhaseConnecting, PhaseDownloading, PhaseFinalizing, PhaseCompleted, PhaseRestarting}
	if !reflect.DeepEqual(h.phases, wantPhases) {
		t.Errorf("phases = %v, want %v", h.phases, wantPhases)
	}
}

func TestBeginVersionedUpdateSkipsSameVersion(t *testing.T) {
	h := newHarness(t, serve(map[string]*fakeResponse{fwURL: okResponse(fwURL, firmware(16))}))
	h.store.strings[KeyAppVersion] = "V2.0"

	updated, err := h.updater.BeginVersionedUpdate(context.Background(), "v2.0", fwURL)
	if err != nil || updated {
		t.Fatalf("BeginVersionedUpdate() = %v, %v, want false, nil", updated, err)
	}
	if len(h.transport.calls) != 0 {
		t.Errorf("unexpected GET %v", h.transport.calls)
	}
	if h.restarter.calls != 0 || h.store.puts != 0 {
		t.Errorf("restarts = %d puts = %d, want none", h.restarter.calls, h.store.puts)
	}
}

func TestBeginVersionedUpdateFailureLeavesStateUnchanged(t *testing.T) {
	tests := []struct {
		name      string
		transport *fakeTransport
		prepare   func(h *harness)
		check     func(t *testing.T, err error)
	}{
		{
			name: "transport error",
			transport: &fakeTransport{handler: func(string) (*fakeResponse, error) {
				return nil, errors.New("no route to host")
			}},
			check: func(t *testing.T, err error) {
				var terr *TransportError
				if !errors.As(err, &terr) {
					t.Errorf("error = %v, want *TransportError", err)
				}
			},
		},
		{
			name:      "not found",
			transport: serve(nil),
			check: func(t *testing.T, err error) {
				var serr *StatusError
				if !errors.As(err, &serr) || serr.StatusCode != http.StatusNotFound {
					t.Errorf("error = %v, want 404 StatusError", err)
				}
			},
		},
		{
			name: "missing location",
			transport: serve(map[string]*fakeResponse{
				fwURL: redirectResponse(fwURL, http.StatusFound, ""),
			}),
			check: func(t *testing.T, err error) {
				if !errors.Is(err, ErrMissingLocation) {
					t.Errorf("error = %v, want ErrMissingLocation", err)
				}
			},
		},
		{
			name: "unknown size",
			transport: &fakeTransport{handler: func(url string) (*fakeResponse, error) {
				resp := okResponse(url, firmware(8))
				resp.length = -1
				return resp, nil
			}},
			check: func(t *testing.T, err error) {
				if !errors.Is(err, ErrEmptyOrUnknownSize) {
					t.Errorf("error = %v, want ErrEmptyOrUnknownSize", err)
				}
			},
		},
		{
			name:      "finalize failed",
			transport: serve(map[string]*fakeResponse{fwURL: okResponse(fwURL, firmware(32))}),
			prepare:   func(h *harness) { h.sink.endErr = errors.New("invalid image magic") },
			check: func(t *testing.T, err error) {
				if !errors.Is(err, ErrFinalizeFailed) {
					t.Errorf("error = %v, want ErrFinalizeFailed", err)
				}
			},
		},
		{
			name:      "flag not persisted",
			transport: serve(map[string]*fakeResponse{fwURL: okResponse(fwURL, firmware(32))}),
			prepare:   func(h *harness) { h.store.putErr[KeyPendingValidation] = errors.New("disk full") },
			check: func(t *testing.T, err error) {
				if err == nil {
					t.Error("expected an error")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.transport)
			h.store.strings[KeyAppVersion] = "1.0"
			if tt.prepare != nil {
				tt.prepare(h)
			}

			updated, err := h.updater.BeginVersionedUpdate(context.Background(), "2.0", fwURL)
			if updated {
				t.Error("reported an update")
			}
			tt.check(t, err)

			if got := h.store.strings[KeyAppVersion]; got != "1.0" {
				t.Errorf("appVersion = %q, want 1.0", got)
			}
			if _, ok := h.store.bools[KeyPendingValidation]; ok {
				t.Error("pendingValidation was written")
			}
			if h.restarter.calls != 0 {
				t.Errorf("restart requested %d times", h.restarter.calls)
			}
			if last := h.phases[len(h.phases)-1]; last != PhaseFailed {
				t.Errorf("final phase = %s, want failed", last)
			}
		})
	}
}

func TestBeginVersionedUpdateFollowsRedirects(t *testing.T) {
	mirror := "https://mirror.local/fw.bin"
	h := newHarness(t, serve(map[string]*fakeResponse{
		fwURL:  redirectResponse(fwURL, http.StatusFound, mirror),
		mirror: okResponse(mirror, firmware(300)),
	}))

	updated, err := h.updater.BeginVersionedUpdate(context.Background(), "2.0", fwURL)
	if err != nil || !updated {
		t.Fatalf("BeginVersionedUpdate() = %v, %v", updated, err)
	}
	if !reflect.DeepEqual(h.transport.calls, []string{fwURL, mirror}) {
		t.Errorf("GET calls = %v", h.transport.calls)
	}
	if len(h.sink.data) != 300 {
		t.Errorf("flashed %d bytes, want 300", len(h.sink.data))
	}
}

func TestPerformUpdateDoesNotPersistOrRestart(t *testing.T) {
	h := newHarness(t, serve(map[string]*fakeResponse{fwURL: okResponse(fwURL, firmware(64))}))

	if err := h.updater.PerformUpdate(context.Background(), fwURL); err != nil {
		t.Fatalf("PerformUpdate() error = %v", err)
	}
	if !h.sink.IsFinished() {
		t.Error("image not finalized")
	}
	if h.store.opens != 0 || h.restarter.calls != 0 {
		t.Errorf("store opens = %d restarts = %d, want none", h.store.opens, h.restarter.calls)
	}
}

func TestPerformUpdateAndRestart(t *testing.T) {
	h := newHarness(t, serve(map[string]*fakeResponse{fwURL: okResponse(fwURL, firmware(64))}))

	if err := h.updater.PerformUpdateAndRestart(context.Background(), fwURL); err != nil {
		t.Fatalf("PerformUpdateAndRestart() error = %v", err)
	}
	if h.restarter.calls != 1 {
		t.Errorf("restarts = %d, want 1", h.restarter.calls)
	}
	if h.store.puts != 0 {
		t.Errorf("store puts = %d, want 0", h.store.puts)
	}

	h = newHarness(t, serve(nil))
	if err := h.updater.PerformUpdateAndRestart(context.Background(), fwURL); err == nil {
		t.Fatal("expected an error for a missing image")
	}
	if h.restarter.calls != 0 {
		t.Errorf("restarts = %d after failure, want 0", h.restarter.calls)
	}
}

func TestPerformUpdateUsesLocator(t *testing.T) {
	presigned := "https://s3.local/firmware/fw.bin?X-Amz-Signature=abc"
	transport := serve(map[string]*fakeResponse{presigned: okResponse(presigned, firmware(16))})

	rec := &recorder{}
	u, err := NewUpdater(Dependencies{
		Transport: transport,
		Sink:      &fakeSink{rec: rec},
		Store:     newFakeStore(rec),
		Restarter: &fakeRestarter{rec: rec},
		Rollback:  &fakeRollback{},
		Locator:   fakeLocator{"s3://firmware/fw.bin": presigned},
	}, WithIdleTimeout(time.Second))
	if err != nil {
		t.Fatalf("NewUpdater() error = %v", err)
	}

	if err := u.PerformUpdate(context.Background(), "s3://firmware/fw.bin"); err != nil {
		t.Fatalf("PerformUpdate() error = %v", err)
	}
	if !reflect.DeepEqual(transport.calls, []string{presigned}) {
		t.Errorf("GET calls = %v", transport.calls)
	}
}

func TestCurrentVersionAndPendingValidation(t *testing.T) {
	h := newHarness(t, serve(nil))

	if v, err := h.updater.CurrentVersion(); err != nil || v != "" {
		t.Errorf("CurrentVersion() = %q, %v, want empty", v, err)
	}

	h.store.strings[KeyAppVersion] = "3.1"
	h.store.bools[KeyPendingValidation] = true

	if v, _ := h.updater.CurrentVersion(); v != "3.1" {
		t.Errorf("CurrentVersion() = %q, want 3.1", v)
	}
	if p, _ := h.updater.PendingValidation(); !p {
		t.Error("PendingValidation() = false, want true")
	}
}

func TestNewUpdaterValidatesDependencies(t *testing.T) {
	rec := &recorder{}
	full := Dependencies{
		Transport: serve(nil),
		Sink:      &fakeSink{},
		Store:     newFakeStore(rec),
		Restarter: &fakeRestarter{},
		Rollback:  &fakeRollback{},
	}

	tests := []struct {
		name string
		deps func() Dependencies
		opts []Option
	}{
		{"missing idle timeout", func() Dependencies { return full }, nil},
		{"missing transport", func() Dependencies { d := full; d.Transport = nil; return d }, []Option{WithIdleTimeout(time.Second)}},
		{"missing sink", func() Dependencies { d := full; d.Sink = nil; return d }, []Option{WithIdleTimeout(time.Second)}},
		{"missing store", func() Dependencies { d := full; d.Store = nil; return d }, []Option{WithIdleTimeout(time.Second)}},
		{"empty namespace", func() Dependencies { return full }, []Option{WithIdleTimeout(time.Second), WithNamespace("")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewUpdater(tt.deps(), tt.opts...); err == nil {
				t.Error("expected an error")
			}
		})
	}
}
