package health

import (
	"context"
	"errors"
	"testing"
)

type fakeDriver struct{ connected bool }

func (f fakeDriver) IsConnected() bool { return f.connected }

type fakeDB struct{ err error }

func (f fakeDB) HealthCheck() error { return f.err }

func TestPackDriverCheckerReportsDisconnected(t *testing.T) {
	checker := NewPackDriverChecker("pack_a", fakeDriver{connected: false})
	if err := checker.Check(context.Background()); err == nil {
		t.Error("expected error for disconnected driver")
	}
}

func TestPackDriverCheckerReportsConnected(t *testing.T) {
	checker := NewPackDriverChecker("pack_a", fakeDriver{connected: true})
	if err := checker.Check(context.Background()); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestDatabaseCheckerPropagatesError(t *testing.T) {
	want := errors.New("connection refused")
	checker := NewDatabaseChecker("fault_log", fakeDB{err: want})
	if err := checker.Check(context.Background()); !errors.Is(err, want) {
		t.Errorf("Check() = %v, want %v", err, want)
	}
}

func TestGetOverallStatus(t *testing.T) {
	service := NewService()

	allHealthy := map[string]CheckResult{
		"a": {Status: StatusHealthy},
		"b": {Status: StatusHealthy},
	}
	if got := service.GetOverallStatus(allHealthy); got != StatusHealthy {
		t.Errorf("GetOverallStatus() = %v, want %v", got, StatusHealthy)
	}

	mixed := map[string]CheckResult{
		"a": {Status: StatusHealthy},
		"b": {Status: StatusUnhealthy},
	}
	if got := service.GetOverallStatus(mixed); got != StatusDegraded {
		t.Errorf("GetOverallStatus() = %v, want %v", got, StatusDegraded)
	}

	allUnhealthy := map[string]CheckResult{
		"a": {Status: StatusUnhealthy},
	}
	if got := service.GetOverallStatus(allUnhealthy); got != StatusUnhealthy {
		t.Errorf("GetOverallStatus() = %v, want %v", got, StatusUnhealthy)
	}
}

func TestCheckAllRunsEveryRegisteredChecker(t *testing.T) {
	service := NewService()
	service.RegisterChecker(NewPackDriverChecker("pack_a", fakeDriver{connected: true}))
	service.RegisterChecker(NewPackDriverChecker("pack_b", fakeDriver{connected: false}))

	results := service.CheckAll(context.Background())
	if len(results) != 2 {
		t.Fatalf("CheckAll() returned %d results, want 2", len(results))
	}
	if results["pack_a"].Status != StatusHealthy {
		t.Errorf("pack_a status = %v, want healthy", results["pack_a"].Status)
	}
	if results["pack_b"].Status != StatusUnhealthy {
		t.Errorf("pack_b status = %v, want unhealthy", results["pack_b"].Status)
	}
}
