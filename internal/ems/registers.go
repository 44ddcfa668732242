package ems

import "marinebms/pkg/hal"

// Register address map for the EMS-facing Modbus TCP server. Command
// registers are holding registers (the EMS writes, we read); status
// registers are input registers (we write, the EMS reads). One block of
// each is reserved per configured pack, addressed by pack index (not pack
// ID) in declaration order, the same fixed-offset-per-unit layout the
// teacher's own Modbus server uses for its BMS/PCS register blocks.
const (
	CmdBaseAddr  = 1000
	CmdBlockSize = 16

	RegCmdKind             = 0
	RegCmdChargeLimitHi    = 1
	RegCmdChargeLimitLo    = 2
	RegCmdDischargeLimitHi = 3
	RegCmdDischargeLimitLo = 4
	RegCmdPending          = 5
	CmdRegCount            = 6

	StatusBaseAddr  = 3000
	StatusBlockSize = 32

	RegStatusMode             = 0
	RegStatusPackVoltageHi    = 1
	RegStatusPackVoltageLo    = 2
	RegStatusPackCurrentHi    = 3
	RegStatusPackCurrentLo    = 4
	RegStatusSOC              = 5
	RegStatusWorstTemp        = 6
	RegStatusFaultsHi         = 7
	RegStatusFaultsLo         = 8
	RegStatusChargeLimitHi    = 9
	RegStatusChargeLimitLo    = 10
	RegStatusDischargeLimitHi = 11
	RegStatusDischargeLimitLo = 12
	RegStatusMinCellMV        = 13
	RegStatusMaxCellMV        = 14
	RegStatusAvgCellMV        = 15
	RegStatusImbalance        = 16
	StatusRegCount            = 17
)

// modeCode encodes a mode name as its index in modeNames, which follows
// measurement.Mode's declaration order; unknown names encode as 0 (OFF).
// It is the same one-register-per-enum-value convention the teacher's
// start/stop and power commands use.
var modeNames = []string{"OFF", "NOT_READY", "READY", "CONNECTING", "CONNECTED", "POWER_SAVE", "FAULT"}

func modeCode(mode string) uint16 {
	for i, name := range modeNames {
		if name == mode {
			return uint16(i)
		}
	}
	return 0
}

func packHi32(v uint32) uint16 { return uint16(v >> 16) }
func packLo32(v uint32) uint16 { return uint16(v) }
func unpack32(hi, lo uint16) uint32 {
	return uint32(hi)<<16 | uint32(lo)
}

// decodeCommand decodes a 6-register command block into a hal.EMSCommandFrame.
func decodeCommand(regs []uint16) hal.EMSCommandFrame {
	return hal.EMSCommandFrame{
		Kind:             hal.EMSCommandKind(regs[RegCmdKind]),
		ChargeLimitMA:    int32(unpack32(regs[RegCmdChargeLimitHi], regs[RegCmdChargeLimitLo])),
		DischargeLimitMA: int32(unpack32(regs[RegCmdDischargeLimitHi], regs[RegCmdDischargeLimitLo])),
	}
}

// encodeStatus renders a hal.StatusSnapshot into a StatusRegCount-register block.
func encodeStatus(status hal.StatusSnapshot) [StatusRegCount]uint16 {
	var regs [StatusRegCount]uint16
	regs[RegStatusMode] = modeCode(status.Mode)
	regs[RegStatusPackVoltageHi] = packHi32(status.PackVoltageDV)
	regs[RegStatusPackVoltageLo] = packLo32(status.PackVoltageDV)
	regs[RegStatusPackCurrentHi] = packHi32(uint32(status.PackCurrentDA))
	regs[RegStatusPackCurrentLo] = packLo32(uint32(status.PackCurrentDA))
	regs[RegStatusSOC] = uint16(status.SOCPercent)
	regs[RegStatusWorstTemp] = uint16(status.WorstTempDeciC)
	regs[RegStatusFaultsHi] = packHi32(status.Faults)
	regs[RegStatusFaultsLo] = packLo32(status.Faults)
	regs[RegStatusChargeLimitHi] = packHi32(uint32(status.ChargeLimitMA))
	regs[RegStatusChargeLimitLo] = packLo32(uint32(status.ChargeLimitMA))
	regs[RegStatusDischargeLimitHi] = packHi32(uint32(status.DischargeLimitMA))
	regs[RegStatusDischargeLimitLo] = packLo32(uint32(status.DischargeLimitMA))
	regs[RegStatusMinCellMV] = status.MinCellMV
	regs[RegStatusMaxCellMV] = status.MaxCellMV
	regs[RegStatusAvgCellMV] = status.AvgCellMV
	if status.Imbalance {
		regs[RegStatusImbalance] = 1
	}
	return regs
}
