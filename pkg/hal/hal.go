// Package hal defines the abstract capability set for all hardware
// access: the cell-monitor driver, contactor I/O, the monotonic clock,
// the fault-log sink, and the EMS command/status channel. The core
// depends only on these interfaces; no direct peripheral access leaks
// into the core. Two implementations coexist: pkg/hal/mock (a desktop
// test double with injectable state) and pkg/hal/modbusdriver (a
// concrete Modbus TCP-backed driver).
package hal

import (
	"context"
	"time"
)

// SafetyBit names one bit of the cell-monitor's hardware safety status
// register.
type SafetyBit uint16

const (
	SafetyHardwareOV SafetyBit = 1 << iota
	SafetyHardwareUV
	SafetyShortCircuitDischarge
	SafetyOverTempDischarge
	SafetyOverTempCharge
	SafetyOverTempFET
)

// CellMonitorDriver is the per-module cell-monitoring capability. Each
// call may fail; a failure sets faults.comm_loss for the owning pack.
type CellMonitorDriver interface {
	Init(ctx context.Context, moduleID int) error
	ReadAllCells(ctx context.Context, moduleID int) ([]uint16, error)
	ReadTemperatures(ctx context.Context, moduleID int) ([]int16, error)
	ReadCurrent(ctx context.Context, moduleID int) (int32, error)
	ReadSafetyStatus(ctx context.Context, moduleID int) (SafetyBit, error)
	SetBalanceMask(ctx context.Context, moduleID int, mask []bool) error
}

// ContactorIO drives and reads back the physical contactor outputs.
type ContactorIO interface {
	SetPrechargeRelay(energized bool) error
	SetNegativeContactor(energized bool) error
	SetPositiveContactor(energized bool) error
	PositiveFeedback() (bool, error)
	NegativeFeedback() (bool, error)
}

// Clock is the monotonic time source; injectable for deterministic
// tests.
type Clock interface {
	NowMS() uint32
	Since(startMS uint32) uint32
}

// SystemClock is the production Clock backed by time.Now relative to
// process start.
type SystemClock struct{ start time.Time }

// NewSystemClock returns a Clock anchored to the current time.
func NewSystemClock() *SystemClock { return &SystemClock{start: time.Now()} }

// NowMS returns elapsed milliseconds since the clock was created.
func (c *SystemClock) NowMS() uint32 {
	return uint32(time.Since(c.start).Milliseconds())
}

// Since returns the elapsed milliseconds since startMS.
func (c *SystemClock) Since(startMS uint32) uint32 {
	now := c.NowMS()
	if now < startMS {
		return 0
	}
	return now - startMS
}

// FaultEvent is one entry written through the persistent-store
// contract's log_fault_event operation.
type FaultEvent struct {
	TimestampMS uint32
	PackID      string
	Kind        string
	Index       int
	Value       int32
}

// PersistentSnapshot is the save_persistent/load_persistent payload: SoC,
// cumulative charge/discharge counters, and runtime hours.
type PersistentSnapshot struct {
	PackID              string
	SOCHundredths       uint16
	CumulativeChargeMAh int64
	CumulativeDischargeMAh int64
	RuntimeHours        uint32
}

// Store is the persistent-store capability: bounded fault-event ring
// buffer plus snapshot save/load.
type Store interface {
	LogFaultEvent(ctx context.Context, ev FaultEvent) error
	SavePersistent(ctx context.Context, snap PersistentSnapshot) error
	LoadPersistent(ctx context.Context, packID string) (PersistentSnapshot, error)
}

// EMSCommandKind mirrors the EMS command tagged union at the transport
// boundary before it is decoded into packfsm.EMSCommand.
type EMSCommandKind uint8

const (
	EMSNone EMSCommandKind = iota
	EMSConnectForCharge
	EMSConnectForDischarge
	EMSDisconnect
	EMSResetFaults
	EMSPowerSave
	EMSSetLimits
)

// EMSCommandFrame is a decoded EMS command instance.
type EMSCommandFrame struct {
	Kind             EMSCommandKind
	TimestampMS      uint32
	ChargeLimitMA    int32
	DischargeLimitMA int32
}

// EMSChannel is the external line-protocol transport for EMS commands
// and periodic status publication.
type EMSChannel interface {
	PollCommand(ctx context.Context, packID string) (EMSCommandFrame, bool, error)
	PublishStatus(ctx context.Context, packID string, status StatusSnapshot) error
}

// StatusSnapshot is the periodically published status output (spec §6).
type StatusSnapshot struct {
	Mode             string
	PackVoltageDV    uint32 // 0.1V units
	PackCurrentDA    int32  // 0.1A units, signed
	SOCPercent       uint8
	WorstTempDeciC   int16
	Faults           uint32
	ChargeLimitMA    int32
	DischargeLimitMA int32
	MinCellMV        uint16
	MaxCellMV        uint16
	AvgCellMV        uint16
	Imbalance        bool
}
