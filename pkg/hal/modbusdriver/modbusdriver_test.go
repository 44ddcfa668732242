package modbusdriver

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestModuleBaseAddressing(t *testing.T) {
	client := NewClient("127.0.0.1", 502, 1, time.Second, zap.NewNop())
	d := NewCellMonitorDriver(client, 14, 3, time.Second)
	if got := d.moduleBase(0); got != 0 {
		t.Errorf("moduleBase(0) = %d, want 0", got)
	}
	if got := d.moduleBase(1); got != RegistersPerModule {
		t.Errorf("moduleBase(1) = %d, want %d", got, RegistersPerModule)
	}
}

func TestClientStartsDisconnected(t *testing.T) {
	client := NewClient("127.0.0.1", 502, 1, time.Second, zap.NewNop())
	if client.IsConnected() {
		t.Error("a freshly constructed client should not report connected")
	}
}

func TestReadAllCellsFailsWhenNotConnected(t *testing.T) {
	client := NewClient("127.0.0.1", 1, 1, 10*time.Millisecond, zap.NewNop())
	d := NewCellMonitorDriver(client, 14, 3, 10*time.Millisecond)
	if _, err := d.ReadAllCells(context.Background(), 0); err == nil {
		t.Error("expected an error reading cells on a disconnected client")
	}
}
