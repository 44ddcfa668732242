package faultlog

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"marinebms/pkg/hal"
)

// newRingOnlyStore builds a Store whose mirror worker is never started,
// so LogFaultEvent only exercises the local ring buffer and the
// non-blocking mirror-queue send.
func newRingOnlyStore() *Store {
	return &Store{
		log:   zap.NewNop(),
		queue: make(chan hal.FaultEvent, 4),
	}
}

func TestRingBufferOrdersOldestFirst(t *testing.T) {
	s := newRingOnlyStore()
	for i := 0; i < 3; i++ {
		_ = s.LogFaultEvent(context.Background(), hal.FaultEvent{Kind: "cell_ov", Index: i})
	}
	events := s.RecentEvents()
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	for i, ev := range events {
		if ev.Index != i {
			t.Errorf("event %d has index %d, want %d", i, ev.Index, i)
		}
	}
}

func TestRingBufferWrapsAtCapacity(t *testing.T) {
	s := newRingOnlyStore()
	for i := 0; i < RingSize+10; i++ {
		_ = s.LogFaultEvent(context.Background(), hal.FaultEvent{Kind: "cell_ov", Index: i})
	}
	events := s.RecentEvents()
	if len(events) != RingSize {
		t.Fatalf("expected ring capped at %d, got %d", RingSize, len(events))
	}
	if events[0].Index != 10 {
		t.Errorf("oldest surviving event index = %d, want 10", events[0].Index)
	}
	if events[RingSize-1].Index != RingSize+9 {
		t.Errorf("newest event index = %d, want %d", events[RingSize-1].Index, RingSize+9)
	}
}

func TestMirrorQueueSaturationDoesNotBlock(t *testing.T) {
	s := newRingOnlyStore()
	for i := 0; i < 20; i++ {
		if err := s.LogFaultEvent(context.Background(), hal.FaultEvent{Kind: "overcurrent", Index: i}); err != nil {
			t.Fatalf("LogFaultEvent returned error: %v", err)
		}
	}
	if len(s.RecentEvents()) != 20 {
		t.Fatalf("expected ring to keep growing even once the mirror queue saturates")
	}
}
