// Package ems implements hal.EMSChannel over a Modbus TCP server: the
// external EMS is the Modbus master, writing command registers and
// polling status registers, the same register-block-per-unit shape the
// teacher's internal/modbus server uses for its BMS/PCS data, generalized
// from "one block per physical unit" to "one block per configured pack."
package ems

import (
	"context"
	"fmt"
	"sync"

	"github.com/simonvetter/modbus"
	"go.uber.org/zap"

	"marinebms/pkg/hal"
)

// Channel implements both hal.EMSChannel (for the scheduler/controller
// side) and the simonvetter/modbus RequestHandler interface (for the
// Modbus TCP transport), so that registers written by the EMS master
// surface directly as hal.EMSCommandFrame without an intermediate
// manager lookup.
type Channel struct {
	mu sync.Mutex

	packIndex map[string]int
	packIDs   []string
	cmdRegs   [][CmdRegCount]uint16
	statusRegs [][StatusRegCount]uint16

	log *zap.Logger
}

// NewChannel constructs a Channel with one register block per packID, in
// the given order.
func NewChannel(packIDs []string, log *zap.Logger) *Channel {
	c := &Channel{
		packIndex:  make(map[string]int, len(packIDs)),
		packIDs:    packIDs,
		cmdRegs:    make([][CmdRegCount]uint16, len(packIDs)),
		statusRegs: make([][StatusRegCount]uint16, len(packIDs)),
		log:        log.With(zap.String("component", "ems_channel")),
	}
	for i, id := range packIDs {
		c.packIndex[id] = i
	}
	return c
}

// PollCommand returns the pending command for packID, if any, clearing
// the pending flag so the same command is not re-delivered.
func (c *Channel) PollCommand(ctx context.Context, packID string) (hal.EMSCommandFrame, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx, ok := c.packIndex[packID]
	if !ok {
		return hal.EMSCommandFrame{}, false, fmt.Errorf("ems: unknown pack %q", packID)
	}
	regs := c.cmdRegs[idx]
	if regs[RegCmdPending] == 0 {
		return hal.EMSCommandFrame{}, false, nil
	}
	c.cmdRegs[idx][RegCmdPending] = 0
	return decodeCommand(regs[:]), true, nil
}

// PublishStatus writes status into packID's input-register block for the
// EMS master to poll.
func (c *Channel) PublishStatus(ctx context.Context, packID string, status hal.StatusSnapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx, ok := c.packIndex[packID]
	if !ok {
		return fmt.Errorf("ems: unknown pack %q", packID)
	}
	c.statusRegs[idx] = encodeStatus(status)
	return nil
}

func (c *Channel) packAt(addr uint16, base uint16, blockSize uint16) (idx int, offset uint16, ok bool) {
	if addr < base {
		return 0, 0, false
	}
	rel := addr - base
	idx = int(rel / blockSize)
	offset = rel % blockSize
	if idx < 0 || idx >= len(c.packIDs) {
		return 0, 0, false
	}
	return idx, offset, true
}

// HandleCoils rejects all coil requests; this transport carries no
// coil-addressable state.
func (c *Channel) HandleCoils(req *modbus.CoilsRequest) ([]bool, error) {
	return nil, modbus.ErrIllegalFunction
}

// HandleDiscreteInputs rejects all discrete-input requests for the same
// reason as HandleCoils.
func (c *Channel) HandleDiscreteInputs(req *modbus.DiscreteInputsRequest) ([]bool, error) {
	return nil, modbus.ErrIllegalFunction
}

// HandleHoldingRegisters serves command register reads/writes: the EMS
// master writes a pack's command block, then sets RegCmdPending to mark
// it ready for the next PollCommand.
func (c *Channel) HandleHoldingRegisters(req *modbus.HoldingRegistersRequest) ([]uint16, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx, offset, ok := c.packAt(req.Addr, CmdBaseAddr, CmdBlockSize)
	if !ok || offset+req.Quantity > CmdRegCount {
		return nil, modbus.ErrIllegalDataAddress
	}

	if req.IsWrite {
		for i, v := range req.Args {
			c.cmdRegs[idx][offset+uint16(i)] = v
		}
		c.log.Debug("command register write", zap.String("pack_id", c.packIDs[idx]), zap.Uint16("offset", offset))
		return req.Args, nil
	}

	result := make([]uint16, req.Quantity)
	for i := range result {
		result[i] = c.cmdRegs[idx][offset+uint16(i)]
	}
	return result, nil
}

// HandleInputRegisters serves status register reads: the value last
// written by PublishStatus.
func (c *Channel) HandleInputRegisters(req *modbus.InputRegistersRequest) ([]uint16, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx, offset, ok := c.packAt(req.Addr, StatusBaseAddr, StatusBlockSize)
	if !ok || offset+req.Quantity > StatusRegCount {
		return nil, modbus.ErrIllegalDataAddress
	}

	result := make([]uint16, req.Quantity)
	for i := range result {
		result[i] = c.statusRegs[idx][offset+uint16(i)]
	}
	return result, nil
}

var _ hal.EMSChannel = (*Channel)(nil)
