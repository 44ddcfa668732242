package ems

import (
	"context"
	"testing"

	"github.com/simonvetter/modbus"
	"go.uber.org/zap"

	"marinebms/pkg/hal"
)

func testChannel() *Channel {
	return NewChannel([]string{"pack-1", "pack-2"}, zap.NewNop())
}

func TestPollCommandReturnsFalseWithNoPendingWrite(t *testing.T) {
	ch := testChannel()
	_, ok, err := ch.PollCommand(context.Background(), "pack-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected no pending command")
	}
}

func TestHoldingRegisterWriteThenPollCommand(t *testing.T) {
	ch := testChannel()

	req := &modbus.HoldingRegistersRequest{
		Addr:     CmdBaseAddr,
		Quantity: CmdRegCount,
		IsWrite:  true,
		Args:     []uint16{uint16(hal.EMSConnectForCharge), 0, 50000, 0, 0, 1},
	}
	if _, err := ch.HandleHoldingRegisters(req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	frame, ok, err := ch.PollCommand(context.Background(), "pack-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected a pending command")
	}
	if frame.Kind != hal.EMSConnectForCharge {
		t.Errorf("Kind = %v, want EMSConnectForCharge", frame.Kind)
	}
	if frame.ChargeLimitMA != 50000 {
		t.Errorf("ChargeLimitMA = %d, want 50000", frame.ChargeLimitMA)
	}

	// pending flag must clear: a second poll returns nothing
	if _, ok, _ := ch.PollCommand(context.Background(), "pack-1"); ok {
		t.Error("expected pending flag cleared after first poll")
	}
}

func TestPublishStatusThenInputRegisterRead(t *testing.T) {
	ch := testChannel()

	status := hal.StatusSnapshot{
		Mode:          "READY",
		PackVoltageDV: 3300,
		SOCPercent:    55,
		MaxCellMV:     3750,
	}
	if err := ch.PublishStatus(context.Background(), "pack-2", status); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	req := &modbus.InputRegistersRequest{Addr: StatusBaseAddr + StatusBlockSize, Quantity: StatusRegCount}
	result, err := ch.HandleInputRegisters(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result[RegStatusMode] != modeCode("READY") {
		t.Errorf("mode register = %d, want %d", result[RegStatusMode], modeCode("READY"))
	}
	if result[RegStatusMaxCellMV] != 3750 {
		t.Errorf("max cell register = %d, want 3750", result[RegStatusMaxCellMV])
	}
}

func TestUnknownPackIDReturnsError(t *testing.T) {
	ch := testChannel()
	if _, _, err := ch.PollCommand(context.Background(), "pack-9"); err == nil {
		t.Error("expected error for unknown pack id")
	}
	if err := ch.PublishStatus(context.Background(), "pack-9", hal.StatusSnapshot{}); err == nil {
		t.Error("expected error for unknown pack id")
	}
}

func TestOutOfRangeAddressReturnsIllegalDataAddress(t *testing.T) {
	ch := testChannel()
	req := &modbus.InputRegistersRequest{Addr: StatusBaseAddr + 2*StatusBlockSize, Quantity: 1}
	if _, err := ch.HandleInputRegisters(req); err == nil {
		t.Error("expected error for out-of-range pack index")
	}
}
