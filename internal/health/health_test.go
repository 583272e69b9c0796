package health

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCheckAll_Empty(t *testing.T) {
	r := NewRegistry(0)
	healthy, statuses := r.CheckAll(context.Background())
	if !healthy {
		t.Error("empty registry should be healthy")
	}
	if len(statuses) != 0 {
		t.Errorf("expected no statuses, got %d", len(statuses))
	}
}

func TestCheckAll_StampsNameAndLatency(t *testing.T) {
	r := NewRegistry(0)
	r.Register("store", func(ctx context.Context) (string, error) {
		return "42 entries", nil
	})

	healthy, statuses := r.CheckAll(context.Background())
	if !healthy {
		t.Error("expected healthy")
	}
	if len(statuses) != 1 {
		t.Fatalf("expected 1 status, got %d", len(statuses))
	}
	s := statuses[0]
	if s.Name != "store" {
		t.Errorf("registry must stamp the name, got %q", s.Name)
	}
	if s.Detail != "42 entries" {
		t.Errorf("detail not propagated: %+v", s)
	}
	if s.LatencyMs < 0 {
		t.Errorf("negative latency: %+v", s)
	}
}

func TestCheckAll_AggregatesFailure(t *testing.T) {
	r := NewRegistry(0)
	r.Register("store", func(ctx context.Context) (string, error) {
		return "", nil
	})
	r.Register("origin", func(ctx context.Context) (string, error) {
		return "", errors.New("connection refused")
	})

	healthy, statuses := r.CheckAll(context.Background())
	if healthy {
		t.Error("one failing probe must make the aggregate unhealthy")
	}
	if len(statuses) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(statuses))
	}
	if statuses[1].Healthy || statuses[1].Detail != "connection refused" {
		t.Errorf("failure not reported: %+v", statuses[1])
	}
}

func TestCheckAll_ProbeDeadline(t *testing.T) {
	r := NewRegistry(20 * time.Millisecond)
	r.Register("stuck", func(ctx context.Context) (string, error) {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(5 * time.Second):
			return "", nil
		}
	})

	done := make(chan struct{})
	var healthy bool
	var statuses []Status
	go func() {
		healthy, statuses = r.CheckAll(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("CheckAll hung on a stuck probe")
	}

	if healthy {
		t.Error("stuck probe must report unhealthy")
	}
	if len(statuses) != 1 || statuses[0].Healthy {
		t.Errorf("unexpected statuses: %+v", statuses)
	}
}
