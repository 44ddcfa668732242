// Package mock provides a desktop test double for every pkg/hal
// capability, with directly injectable state for deterministic tests.
package mock

import (
	"context"
	"sync"

	"marinebms/pkg/hal"
)

// CellMonitor is an injectable fake of hal.CellMonitorDriver. Tests set
// CellsByModule/TempsByModule/CurrentByModule/SafetyByModule directly;
// FailNext forces the next call on the named method to return an error,
// simulating comm_loss.
type CellMonitor struct {
	mu sync.Mutex

	CellsByModule    map[int][]uint16
	TempsByModule    map[int][]int16
	CurrentByModule  map[int]int32
	SafetyByModule   map[int]hal.SafetyBit
	BalanceByModule  map[int][]bool

	FailNext map[string]bool
}

// NewCellMonitor returns an empty CellMonitor fake.
func NewCellMonitor() *CellMonitor {
	return &CellMonitor{
		CellsByModule:   make(map[int][]uint16),
		TempsByModule:   make(map[int][]int16),
		CurrentByModule: make(map[int]int32),
		SafetyByModule:  make(map[int]hal.SafetyBit),
		BalanceByModule: make(map[int][]bool),
		FailNext:        make(map[string]bool),
	}
}

func (m *CellMonitor) shouldFail(op string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailNext[op] {
		m.FailNext[op] = false
		return true
	}
	return false
}

// SetFailNext arranges for the named operation's next call to fail.
func (m *CellMonitor) SetFailNext(op string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FailNext[op] = true
}

func (m *CellMonitor) Init(ctx context.Context, moduleID int) error {
	if m.shouldFail("Init") {
		return errCommFailure
	}
	return nil
}

func (m *CellMonitor) ReadAllCells(ctx context.Context, moduleID int) ([]uint16, error) {
	if m.shouldFail("ReadAllCells") {
		return nil, errCommFailure
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]uint16(nil), m.CellsByModule[moduleID]...), nil
}

func (m *CellMonitor) ReadTemperatures(ctx context.Context, moduleID int) ([]int16, error) {
	if m.shouldFail("ReadTemperatures") {
		return nil, errCommFailure
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int16(nil), m.TempsByModule[moduleID]...), nil
}

func (m *CellMonitor) ReadCurrent(ctx context.Context, moduleID int) (int32, error) {
	if m.shouldFail("ReadCurrent") {
		return 0, errCommFailure
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CurrentByModule[moduleID], nil
}

func (m *CellMonitor) ReadSafetyStatus(ctx context.Context, moduleID int) (hal.SafetyBit, error) {
	if m.shouldFail("ReadSafetyStatus") {
		return 0, errCommFailure
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.SafetyByModule[moduleID], nil
}

func (m *CellMonitor) SetBalanceMask(ctx context.Context, moduleID int, mask []bool) error {
	if m.shouldFail("SetBalanceMask") {
		return errCommFailure
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.BalanceByModule[moduleID] = append([]bool(nil), mask...)
	return nil
}

// Contactor is an injectable fake of hal.ContactorIO.
type Contactor struct {
	mu sync.Mutex

	Precharge bool
	Negative  bool
	Positive  bool

	PosFeedback bool
	NegFeedback bool
}

func NewContactor() *Contactor { return &Contactor{} }

func (c *Contactor) SetPrechargeRelay(energized bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Precharge = energized
	return nil
}

func (c *Contactor) SetNegativeContactor(energized bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Negative = energized
	c.NegFeedback = energized
	return nil
}

func (c *Contactor) SetPositiveContactor(energized bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Positive = energized
	c.PosFeedback = energized
	return nil
}

func (c *Contactor) PositiveFeedback() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.PosFeedback, nil
}

func (c *Contactor) NegativeFeedback() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.NegFeedback, nil
}

// Clock is an injectable fake of hal.Clock: tests advance it manually
// with Advance rather than relying on wall-clock time.
type Clock struct {
	mu    sync.Mutex
	nowMS uint32
}

func NewClock() *Clock { return &Clock{} }

func (c *Clock) Advance(deltaMS uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nowMS += deltaMS
}

func (c *Clock) NowMS() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nowMS
}

func (c *Clock) Since(startMS uint32) uint32 {
	now := c.NowMS()
	if now < startMS {
		return 0
	}
	return now - startMS
}

// Store is an injectable fake of hal.Store, keeping events/snapshots in
// memory.
type Store struct {
	mu sync.Mutex

	Events    []hal.FaultEvent
	Snapshots map[string]hal.PersistentSnapshot
}

func NewStore() *Store {
	return &Store{Snapshots: make(map[string]hal.PersistentSnapshot)}
}

func (s *Store) LogFaultEvent(ctx context.Context, ev hal.FaultEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Events = append(s.Events, ev)
	return nil
}

func (s *Store) SavePersistent(ctx context.Context, snap hal.PersistentSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Snapshots[snap.PackID] = snap
	return nil
}

func (s *Store) LoadPersistent(ctx context.Context, packID string) (hal.PersistentSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.Snapshots[packID]
	if !ok {
		return hal.PersistentSnapshot{PackID: packID}, nil
	}
	return snap, nil
}

// EMSChannel is an injectable fake of hal.EMSChannel.
type EMSChannel struct {
	mu sync.Mutex

	Pending      map[string][]hal.EMSCommandFrame
	Published    map[string][]hal.StatusSnapshot
}

func NewEMSChannel() *EMSChannel {
	return &EMSChannel{
		Pending:   make(map[string][]hal.EMSCommandFrame),
		Published: make(map[string][]hal.StatusSnapshot),
	}
}

// Enqueue injects a command frame to be returned by the next PollCommand
// for packID.
func (e *EMSChannel) Enqueue(packID string, frame hal.EMSCommandFrame) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Pending[packID] = append(e.Pending[packID], frame)
}

func (e *EMSChannel) PollCommand(ctx context.Context, packID string) (hal.EMSCommandFrame, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	q := e.Pending[packID]
	if len(q) == 0 {
		return hal.EMSCommandFrame{}, false, nil
	}
	e.Pending[packID] = q[1:]
	return q[0], true, nil
}

func (e *EMSChannel) PublishStatus(ctx context.Context, packID string, status hal.StatusSnapshot) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Published[packID] = append(e.Published[packID], status)
	return nil
}

type commError struct{ msg string }

func (e *commError) Error() string { return e.msg }

var errCommFailure = &commError{msg: "mock: injected communication failure"}
