package scheduler

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestStartStopRunsEachTaskAtLeastOnce(t *testing.T) {
	var monitorCount, protectionCount int32

	tasks := []Task{
		{Name: "monitor", Interval: 5 * time.Millisecond, Fn: func(uint32) { monitorCount++ }},
		{Name: "protection", Interval: 5 * time.Millisecond, Fn: func(uint32) { protectionCount++ }},
	}

	s := New(tasks, zap.NewNop())
	s.Start()
	time.Sleep(30 * time.Millisecond)
	s.Stop()

	if monitorCount == 0 {
		t.Error("expected monitor task to have run at least once")
	}
	if protectionCount == 0 {
		t.Error("expected protection task to have run at least once")
	}
}

func TestRunInlineRunsEveryTaskPerTick(t *testing.T) {
	var order []string
	tasks := []Task{
		{Name: "a", Fn: func(uint32) { order = append(order, "a") }},
		{Name: "b", Fn: func(uint32) { order = append(order, "b") }},
	}

	RunInline(tasks, 3, 10)

	want := []string{"a", "b", "a", "b", "a", "b"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestRunWithRecoveryContainsPanic(t *testing.T) {
	s := New(nil, zap.NewNop())
	task := Task{Name: "panicky", Fn: func(uint32) { panic("boom") }}

	done := make(chan struct{})
	go func() {
		s.runWithRecovery(task, 0)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("runWithRecovery did not return after panic")
	}
}
