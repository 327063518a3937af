package hal

import (
	"context"
	"testing"
)

func TestSimulatedRestarterSignalsOnce(t *testing.T) {
	r := NewSimulatedRestarter(nil)

	select {
	case <-r.Requested():
		t.Fatal("restart requested before Restart")
	default:
	}

	for i := 0; i < 2; i++ {
		if err := r.Restart(context.Background()); err != nil {
			t.Fatalf("Restart() error = %v", err)
		}
	}

	select {
	case <-r.Requested():
	default:
		t.Fatal("Requested() not closed after Restart")
	}
}
