// Package modbusdriver implements pkg/hal's cell-monitor driver and
// contactor I/O over Modbus TCP (register maps), the same transport the
// teacher uses for every external device. The EMS command/status channel
// is not here; it lives in internal/ems. Connection loss
// is handled with a reconnect-with-backoff loop, mirroring the bms
// service's handleBaseClientConnectionError.
package modbusdriver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/grid-x/modbus"
	"go.uber.org/zap"

	"marinebms/pkg/hal"
	"marinebms/pkg/utils"
)

// Register layout, per module (offsets within that module's register
// block): cell voltages, then temperatures, then current, then safety
// status, then balance-mask write target.
const (
	RegCellVoltagesBase = 0
	RegTemperaturesBase = 0x0100
	RegCurrent          = 0x0200
	RegSafetyStatus     = 0x0201
	RegBalanceMaskBase  = 0x0300
	RegistersPerModule  = 0x0400
)

// Client wraps a grid-x/modbus TCP client with the teacher's
// connect/reconnect/protocol-error-classification pattern.
type Client struct {
	client  modbus.Client
	handler *modbus.TCPClientHandler

	mu          sync.RWMutex
	isConnected bool

	log *zap.Logger
}

// NewClient constructs a Client for the given endpoint.
func NewClient(host string, port int, slaveID byte, timeout time.Duration, log *zap.Logger) *Client {
	handler := modbus.NewTCPClientHandler(fmt.Sprintf("%s:%d", host, port))
	handler.SlaveID = slaveID
	handler.Timeout = timeout
	return &Client{
		client:  modbus.NewClient(handler),
		handler: handler,
		log:     log,
	}
}

func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.handler.Connect(ctx); err != nil {
		c.isConnected = false
		return err
	}
	c.isConnected = true
	return nil
}

func (c *Client) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	err := c.handler.Close()
	c.isConnected = false
	return err
}

func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isConnected
}

func (c *Client) isModbusProtocolError(err error) bool {
	var modbusErr *modbus.Error
	return errors.As(err, &modbusErr)
}

func (c *Client) markDisconnected() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isConnected = false
}

func (c *Client) handleConnectionError(err error) {
	if err != nil && !c.isModbusProtocolError(err) {
		go c.markDisconnected()
	}
}

func (c *Client) readHoldingRegisters(ctx context.Context, address, quantity uint16) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.isConnected {
		return nil, fmt.Errorf("modbusdriver: client not connected")
	}
	data, err := c.client.ReadHoldingRegisters(ctx, address, quantity)
	if err != nil {
		c.handleConnectionError(err)
		return nil, err
	}
	return data, nil
}

func (c *Client) writeSingleRegister(ctx context.Context, address, value uint16) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.isConnected {
		return fmt.Errorf("modbusdriver: client not connected")
	}
	if _, err := c.client.WriteSingleRegister(ctx, address, value); err != nil {
		c.handleConnectionError(err)
		return err
	}
	return nil
}

func (c *Client) writeMultipleRegisters(ctx context.Context, address uint16, values []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.isConnected {
		return fmt.Errorf("modbusdriver: client not connected")
	}
	if _, err := c.client.WriteMultipleRegisters(ctx, address, uint16(len(values)/2), values); err != nil {
		c.handleConnectionError(err)
		return err
	}
	return nil
}

func (c *Client) writeSingleCoil(ctx context.Context, address uint16, on bool) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.isConnected {
		return fmt.Errorf("modbusdriver: client not connected")
	}
	value := uint16(0)
	if on {
		value = 0xFF00
	}
	if _, err := c.client.WriteSingleCoil(ctx, address, value); err != nil {
		c.handleConnectionError(err)
		return err
	}
	return nil
}

func (c *Client) readDiscreteInput(ctx context.Context, address uint16) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.isConnected {
		return false, fmt.Errorf("modbusdriver: client not connected")
	}
	data, err := c.client.ReadDiscreteInputs(ctx, address, 1)
	if err != nil {
		c.handleConnectionError(err)
		return false, err
	}
	return data[0]&0x01 != 0, nil
}

// Reconnect runs the reconnect-with-backoff loop until ctx is done or
// the connection is restored.
func (c *Client) Reconnect(ctx context.Context, delay time.Duration) {
	c.log.Warn("modbus connection lost, initiating reconnection procedure")
	c.Disconnect()

	attempts := 0
	timer := time.NewTimer(delay)
	defer timer.Stop()

	for !c.IsConnected() {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			attempts++
			if err := c.Connect(ctx); err != nil {
				c.log.Error("failed to reconnect", zap.Error(err), zap.Int("attempt", attempts))
				timer.Reset(delay)
			} else {
				c.log.Info("reconnected", zap.Int("total_attempts", attempts))
				return
			}
		}
	}
}

// CellMonitorDriver implements hal.CellMonitorDriver over a Client, one
// register block per module.
type CellMonitorDriver struct {
	client         *Client
	cellsPerModule int
	sensorsPerModule int
	reconnectDelay time.Duration
}

// NewCellMonitorDriver constructs a CellMonitorDriver.
func NewCellMonitorDriver(client *Client, cellsPerModule, sensorsPerModule int, reconnectDelay time.Duration) *CellMonitorDriver {
	return &CellMonitorDriver{
		client:           client,
		cellsPerModule:   cellsPerModule,
		sensorsPerModule: sensorsPerModule,
		reconnectDelay:   reconnectDelay,
	}
}

func (d *CellMonitorDriver) moduleBase(moduleID int) uint16 {
	return uint16(moduleID * RegistersPerModule)
}

func (d *CellMonitorDriver) onError(ctx context.Context, err error) error {
	if !d.client.IsConnected() {
		go d.client.Reconnect(ctx, d.reconnectDelay)
	}
	return fmt.Errorf("modbusdriver: %w", err)
}

func (d *CellMonitorDriver) Init(ctx context.Context, moduleID int) error {
	_, err := d.client.readHoldingRegisters(ctx, d.moduleBase(moduleID)+RegCellVoltagesBase, 1)
	if err != nil {
		return d.onError(ctx, err)
	}
	return nil
}

func (d *CellMonitorDriver) ReadAllCells(ctx context.Context, moduleID int) ([]uint16, error) {
	data, err := d.client.readHoldingRegisters(ctx, d.moduleBase(moduleID)+RegCellVoltagesBase, uint16(d.cellsPerModule))
	if err != nil {
		return nil, d.onError(ctx, err)
	}
	cells := make([]uint16, d.cellsPerModule)
	for i := range cells {
		cells[i] = utils.FromBytes[uint16](data[i*2 : i*2+2])
	}
	return cells, nil
}

func (d *CellMonitorDriver) ReadTemperatures(ctx context.Context, moduleID int) ([]int16, error) {
	data, err := d.client.readHoldingRegisters(ctx, d.moduleBase(moduleID)+RegTemperaturesBase, uint16(d.sensorsPerModule))
	if err != nil {
		return nil, d.onError(ctx, err)
	}
	temps := make([]int16, d.sensorsPerModule)
	for i := range temps {
		temps[i] = utils.FromBytes[int16](data[i*2 : i*2+2])
	}
	return temps, nil
}

func (d *CellMonitorDriver) ReadCurrent(ctx context.Context, moduleID int) (int32, error) {
	data, err := d.client.readHoldingRegisters(ctx, d.moduleBase(moduleID)+RegCurrent, 2)
	if err != nil {
		return 0, d.onError(ctx, err)
	}
	return utils.FromBytes[int32](data), nil
}

func (d *CellMonitorDriver) ReadSafetyStatus(ctx context.Context, moduleID int) (hal.SafetyBit, error) {
	data, err := d.client.readHoldingRegisters(ctx, d.moduleBase(moduleID)+RegSafetyStatus, 1)
	if err != nil {
		return 0, d.onError(ctx, err)
	}
	return hal.SafetyBit(utils.FromBytes[uint16](data)), nil
}

func (d *CellMonitorDriver) SetBalanceMask(ctx context.Context, moduleID int, mask []bool) error {
	var word uint16
	for i, b := range mask {
		if b {
			word |= 1 << uint(i)
		}
	}
	if err := d.client.writeSingleRegister(ctx, d.moduleBase(moduleID)+RegBalanceMaskBase, word); err != nil {
		return d.onError(ctx, err)
	}
	return nil
}

// IsConnected reports whether the underlying Modbus client is currently
// connected, for use by health checkers.
func (d *CellMonitorDriver) IsConnected() bool {
	return d.client.IsConnected()
}

var _ hal.CellMonitorDriver = (*CellMonitorDriver)(nil)

// Coil/discrete-input addresses for the contactor relay block. One
// block per pack, on the same Modbus endpoint as the cell-monitor ASIC
// since both live on the pack's local controller board.
const (
	CoilPrechargeRelay     = 0
	CoilNegativeContactor  = 1
	CoilPositiveContactor  = 2
	DiscretePositiveFeedback = 0
	DiscreteNegativeFeedback = 1
)

// ContactorIO implements hal.ContactorIO over the same Client used for
// cell-monitor reads: the relay outputs are coils, the feedback inputs
// are discrete inputs, both standard Modbus object types.
type ContactorIO struct {
	client *Client
}

// NewContactorIO constructs a ContactorIO bound to client.
func NewContactorIO(client *Client) *ContactorIO {
	return &ContactorIO{client: client}
}

func (c *ContactorIO) SetPrechargeRelay(energized bool) error {
	return c.client.writeSingleCoil(context.Background(), CoilPrechargeRelay, energized)
}

func (c *ContactorIO) SetNegativeContactor(energized bool) error {
	return c.client.writeSingleCoil(context.Background(), CoilNegativeContactor, energized)
}

func (c *ContactorIO) SetPositiveContactor(energized bool) error {
	return c.client.writeSingleCoil(context.Background(), CoilPositiveContactor, energized)
}

func (c *ContactorIO) PositiveFeedback() (bool, error) {
	return c.client.readDiscreteInput(context.Background(), DiscretePositiveFeedback)
}

func (c *ContactorIO) NegativeFeedback() (bool, error) {
	return c.client.readDiscreteInput(context.Background(), DiscreteNegativeFeedback)
}

var _ hal.ContactorIO = (*ContactorIO)(nil)
