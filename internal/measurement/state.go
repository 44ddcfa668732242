// Package measurement defines the fixed-width pack/array data model shared
// by every core subsystem. All fields are fixed-width integers; no
// floating point is used anywhere in this package, per the core's
// determinism requirement.
package measurement

import "fmt"

// Pack topology. These are the canonical values from the tunables table;
// a deployment may override them via config, but the array sizes below
// are derived from whatever values are active at controller construction.
const (
	DefaultModules          = 22
	DefaultCellsPerModule   = 14
	DefaultSensorsPerModule = 3
)

// Topology describes the series/parallel layout of a single pack.
type Topology struct {
	Modules          int
	CellsPerModule   int
	SensorsPerModule int
}

// NCells returns the total number of series cell elements in the pack.
func (t Topology) NCells() int { return t.Modules * t.CellsPerModule }

// NSensors returns the total number of temperature sensors in the pack.
func (t Topology) NSensors() int { return t.Modules * t.SensorsPerModule }

// DefaultTopology returns the canonical 22x14 / 22x3 pack layout (spec.md §6).
func DefaultTopology() Topology {
	return Topology{
		Modules:          DefaultModules,
		CellsPerModule:   DefaultCellsPerModule,
		SensorsPerModule: DefaultSensorsPerModule,
	}
}

// Faults is a bitset of named fault conditions (spec.md §3).
type Faults uint32

const (
	FaultCellOV Faults = 1 << iota
	FaultCellUV
	FaultCellOT
	FaultHWOV
	FaultHWUV
	FaultHWOT
	FaultOCCharge
	FaultOCDischarge
	FaultSCDischarge
	FaultContactorWeld
	FaultEMSTimeout
	FaultCommLoss
	FaultImbalance
)

var faultNames = map[Faults]string{
	FaultCellOV:        "cell_ov",
	FaultCellUV:        "cell_uv",
	FaultCellOT:        "cell_ot",
	FaultHWOV:          "hw_ov",
	FaultHWUV:          "hw_uv",
	FaultHWOT:          "hw_ot",
	FaultOCCharge:      "oc_charge",
	FaultOCDischarge:   "oc_discharge",
	FaultSCDischarge:   "sc_discharge",
	FaultContactorWeld: "contactor_weld",
	FaultEMSTimeout:    "ems_timeout",
	FaultCommLoss:      "comm_loss",
	FaultImbalance:     "imbalance",
}

// Set returns f with bit added.
func (f Faults) Set(bit Faults) Faults { return f | bit }

// Clear returns f with bit removed.
func (f Faults) Clear(bit Faults) Faults { return f &^ bit }

// Has reports whether bit is set.
func (f Faults) Has(bit Faults) bool { return f&bit != 0 }

// Any reports whether any fault bit is set.
func (f Faults) Any() bool { return f != 0 }

// String renders the active fault names, comma-joined, for logging.
func (f Faults) String() string {
	if f == 0 {
		return "none"
	}
	s := ""
	for bit, name := range faultNames {
		if f.Has(bit) {
			if s != "" {
				s += ","
			}
			s += name
		}
	}
	return s
}

// Mode is the pack operating mode (spec.md §4.6).
type Mode uint8

const (
	ModeOff Mode = iota
	ModeNotReady
	ModeReady
	ModeConnecting
	ModeConnected
	ModePowerSave
	ModeFault
)

func (m Mode) String() string {
	switch m {
	case ModeOff:
		return "OFF"
	case ModeNotReady:
		return "NOT_READY"
	case ModeReady:
		return "READY"
	case ModeConnecting:
		return "CONNECTING"
	case ModeConnected:
		return "CONNECTED"
	case ModePowerSave:
		return "POWER_SAVE"
	case ModeFault:
		return "FAULT"
	default:
		return fmt.Sprintf("MODE(%d)", uint8(m))
	}
}

// ContactorState is the contactor sequencer state (spec.md §4.5).
type ContactorState uint8

const (
	ContactorOpen ContactorState = iota
	ContactorPreCharge
	ContactorClosing
	ContactorClosed
	ContactorOpening
	ContactorWelded
)

func (c ContactorState) String() string {
	switch c {
	case ContactorOpen:
		return "OPEN"
	case ContactorPreCharge:
		return "PRE_CHARGE"
	case ContactorClosing:
		return "CLOSING"
	case ContactorClosed:
		return "CLOSED"
	case ContactorOpening:
		return "OPENING"
	case ContactorWelded:
		return "WELDED"
	default:
		return fmt.Sprintf("CONTACTOR(%d)", uint8(c))
	}
}

// PackState is the per-pack read model (spec.md §3). A reading of 0 in
// CellMV means "unconnected / invalid" and is excluded from
// under-voltage evaluation by the aggregator and protection engine.
type PackState struct {
	Topology Topology

	CellMV      []uint16 // length Topology.NCells(), millivolts
	TempDeciC   []int16  // length Topology.NSensors(), tenths of a degree C

	PackVoltageMV uint32
	PackCurrentMA int32 // positive = charging

	MaxCellMV     uint16
	MinCellMV     uint16
	AvgCellMV     uint16
	MaxTempDeciC  int16
	MinTempDeciC  int16

	SOCHundredths uint16 // [0, 10000]

	ChargeLimitMA    int32 // non-negative magnitude
	DischargeLimitMA int32 // non-negative magnitude

	Mode           Mode
	ContactorState ContactorState
	Faults         Faults
	FaultLatched   bool
	HasWarning     bool
	WarningMessage string

	UptimeMS       uint32
	LastEMSMsgMS   uint32
	HeartbeatCount uint16

	BalanceMask []bool // length Topology.NCells(), passive-balance request per cell
}

// NewPackState allocates a PackState for the given topology, initialized
// per spec.md §3's lifecycle rule: mode NOT_READY, contactor OPEN, all
// outputs de-energized, zero readings.
func NewPackState(t Topology) *PackState {
	return &PackState{
		Topology:       t,
		CellMV:         make([]uint16, t.NCells()),
		TempDeciC:      make([]int16, t.NSensors()),
		Mode:           ModeNotReady,
		ContactorState: ContactorOpen,
		BalanceMask:    make([]bool, t.NCells()),
	}
}

// CheckInvariants verifies the always-hold invariants from spec.md §3/§8.
// It is intended for use from tests, not from the hot path.
func (p *PackState) CheckInvariants() error {
	if p.MinCellMV > p.AvgCellMV || p.AvgCellMV > p.MaxCellMV {
		anyNonZero := false
		for _, v := range p.CellMV {
			if v != 0 {
				anyNonZero = true
				break
			}
		}
		if anyNonZero {
			return fmt.Errorf("invariant violated: min(%d) <= avg(%d) <= max(%d)", p.MinCellMV, p.AvgCellMV, p.MaxCellMV)
		}
	}
	if p.SOCHundredths > 10000 {
		return fmt.Errorf("invariant violated: soc_hundredths %d > 10000", p.SOCHundredths)
	}
	if p.ChargeLimitMA < 0 || p.DischargeLimitMA < 0 {
		return fmt.Errorf("invariant violated: negative limit (charge=%d discharge=%d)", p.ChargeLimitMA, p.DischargeLimitMA)
	}
	if p.FaultLatched {
		switch p.ContactorState {
		case ContactorOpen, ContactorOpening, ContactorWelded:
		default:
			return fmt.Errorf("invariant violated: fault_latched but contactor_state=%s", p.ContactorState)
		}
		if p.ChargeLimitMA != 0 || p.DischargeLimitMA != 0 {
			return fmt.Errorf("invariant violated: fault_latched but limits nonzero (charge=%d discharge=%d)", p.ChargeLimitMA, p.DischargeLimitMA)
		}
	}
	if p.ContactorState == ContactorWelded {
		if !p.Faults.Has(FaultContactorWeld) || !p.FaultLatched {
			return fmt.Errorf("invariant violated: contactor WELDED but weld fault/latch not set")
		}
	}
	if p.Mode == ModeConnected && p.ContactorState != ContactorClosed {
		return fmt.Errorf("invariant violated: mode CONNECTED but contactor_state=%s", p.ContactorState)
	}
	return nil
}

// ProtectionState is owned exclusively by the protection engine (spec.md §3).
type ProtectionState struct {
	OVTimerMS []uint32 // length NCells()
	UVTimerMS []uint32 // length NCells()
	OTTimerMS []uint32 // length NSensors()

	HWOVTimerMS uint32
	HWUVTimerMS uint32
	HWOTTimerMS uint32

	OCChargeTimerMS    uint32
	OCDischargeTimerMS uint32

	SafeStateMS uint32

	WarnOVTimerMS   uint32
	WarnUVTimerMS   uint32
	WarnOTTimerMS   uint32
	WarningHoldMS   uint32
	WarnOVActive    bool
	WarnUVActive    bool
	WarnOTActive    bool

	OCWarnTimerMS uint32

	HWFaultLatched bool // cleared only by explicit hardware-service acknowledgement

	ScanIndex int // rotating per-tick staggered scan index, owned here not a package global
}

// NewProtectionState allocates a zeroed ProtectionState for the topology
// (spec.md §3 lifecycle: "ProtectionState initialized to all-zero timers").
func NewProtectionState(t Topology) *ProtectionState {
	return &ProtectionState{
		OVTimerMS: make([]uint32, t.NCells()),
		UVTimerMS: make([]uint32, t.NCells()),
		OTTimerMS: make([]uint32, t.NSensors()),
	}
}

// ArrayState is the system-level record owned by the array coordinator
// (spec.md §3): bus voltage plus the conservative array-level limits.
type ArrayState struct {
	BusVoltageMV        uint32
	ArrayChargeLimitMA  int32
	ArrayDischargeLimitMA int32
}
