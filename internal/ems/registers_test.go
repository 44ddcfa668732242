package ems

import (
	"testing"

	"marinebms/pkg/hal"
)

func TestEncodeDecodeCommandRoundTrips(t *testing.T) {
	regs := [CmdRegCount]uint16{}
	regs[RegCmdKind] = uint16(hal.EMSSetLimits)
	regs[RegCmdChargeLimitHi], regs[RegCmdChargeLimitLo] = packHi32(120000), packLo32(120000)
	regs[RegCmdDischargeLimitHi], regs[RegCmdDischargeLimitLo] = packHi32(200000), packLo32(200000)

	frame := decodeCommand(regs[:])
	if frame.Kind != hal.EMSSetLimits {
		t.Errorf("Kind = %v, want EMSSetLimits", frame.Kind)
	}
	if frame.ChargeLimitMA != 120000 {
		t.Errorf("ChargeLimitMA = %d, want 120000", frame.ChargeLimitMA)
	}
	if frame.DischargeLimitMA != 200000 {
		t.Errorf("DischargeLimitMA = %d, want 200000", frame.DischargeLimitMA)
	}
}

func TestEncodeStatusCarriesNegativeCurrent(t *testing.T) {
	status := hal.StatusSnapshot{
		Mode:          "CONNECTED",
		PackCurrentDA: -1500,
	}
	regs := encodeStatus(status)
	got := int32(unpack32(regs[RegStatusPackCurrentHi], regs[RegStatusPackCurrentLo]))
	if got != -1500 {
		t.Errorf("PackCurrentDA round trip = %d, want -1500", got)
	}
	if regs[RegStatusMode] != modeCode("CONNECTED") {
		t.Errorf("mode register = %d, want %d", regs[RegStatusMode], modeCode("CONNECTED"))
	}
}

func TestModeCodeUnknownReturnsZero(t *testing.T) {
	if modeCode("NONSENSE") != 0 {
		t.Error("expected unknown mode to map to 0")
	}
}
