package ota

import (
	"context"
	"errors"
	"testing"
)

func TestMarkAsValid(t *testing.T) {
	t.Run("no pending image", func(t *testing.T) {
		h := newHarness(t, serve(nil))
		h.store.strings[KeyAppVersion] = "1.0"

		if err := h.updater.MarkAsValid(context.Background()); err != nil {
			t.Fatalf("MarkAsValid() error = %v", err)
		}
		if h.rollback.validCalls != 0 {
			t.Errorf("platform called %d times, want 0", h.rollback.validCalls)
		}
		if h.store.puts != 0 {
			t.Errorf("store puts = %d, want 0", h.store.puts)
		}
	})

	t.Run("pending image is confirmed once", func(t *testing.T) {
		h := newHarness(t, serve(nil))
		h.store.bools[KeyPendingValidation] = true

		for i := 0; i < 2; i++ {
			if err := h.updater.MarkAsValid(context.Background()); err != nil {
				t.Fatalf("MarkAsValid() #%d error = %v", i, err)
			}
		}
		if h.rollback.validCalls != 1 {
			t.Errorf("platform called %d times, want 1", h.rollback.validCalls)
		}
		if h.store.bools[KeyPendingValidation] {
			t.Error("pendingValidation still set")
		}
	})

	t.Run("platform failure keeps the flag", func(t *testing.T) {
		h := newHarness(t, serve(nil))
		h.store.bools[KeyPendingValidation] = true
		h.rollback.validErr = errors.New("otadata write failed")

		if err := h.updater.MarkAsValid(context.Background()); err == nil {
			t.Fatal("expected an error")
		}
		if !h.store.bools[KeyPendingValidation] {
			t.Error("pendingValidation cleared after a failed cancel")
		}
	})
}

func TestMarkAsInvalid(t *testing.T) {
	t.Run("rollback not possible", func(t *testing.T) {
		h := newHarness(t, serve(nil))
		h.store.bools[KeyPendingValidation] = true

		if err := h.updater.MarkAsInvalid(context.Background()); err != nil {
			t.Fatalf("MarkAsInvalid() error = %v", err)
		}
		if h.rollback.invalidCalls != 0 {
			t.Errorf("reboot primitive called %d times, want 0", h.rollback.invalidCalls)
		}
		if !h.store.bools[KeyPendingValidation] {
			t.Error("state changed")
		}
	})

	t.Run("rollback possible", func(t *testing.T) {
		h := newHarness(t, serve(nil))
		h.rollback.possible = true

		if err := h.updater.MarkAsInvalid(context.Background()); err != nil {
			t.Fatalf("MarkAsInvalid() error = %v", err)
		}
		if h.rollback.checkCalls != 1 || h.rollback.invalidCalls != 1 {
			t.Errorf("check = %d invalid = %d, want 1 and 1", h.rollback.checkCalls, h.rollback.invalidCalls)
		}
	})
}
