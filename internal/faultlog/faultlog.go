// Package faultlog implements hal.Store: fault events are appended to a
// bounded in-memory ring buffer for immediate local inspection and
// mirrored asynchronously to PostgreSQL through a buffered worker, the
// same buffered-channel/panic-recovery/drain-on-shutdown shape the
// teacher's alarm manager uses. Persistent snapshots (SoC, cumulative
// counters, runtime hours) are written synchronously; nothing in the
// startup path loads them back.
package faultlog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"marinebms/internal/config"
	"marinebms/pkg/hal"
)

// RingSize is the bounded local fault-event history, one ring shared by
// every pack that logs through the Store.
const RingSize = 64

// FaultEventRecord is the gorm-mapped row for a mirrored fault event.
type FaultEventRecord struct {
	ID          uint      `gorm:"primaryKey"`
	TimestampMS uint32    `gorm:"index"`
	PackID      string    `gorm:"index;size:64"`
	Kind        string    `gorm:"index;size:64"`
	CellIndex   int
	Value       int32
	CreatedAt   time.Time
}

func (FaultEventRecord) TableName() string { return "fault_events" }

// PersistentSnapshotRecord is the gorm-mapped row for one pack's saved
// SoC/cumulative state.
type PersistentSnapshotRecord struct {
	PackID                 string `gorm:"primaryKey;size:64"`
	SOCHundredths          uint16
	CumulativeChargeMAh    int64
	CumulativeDischargeMAh int64
	RuntimeHours           uint32
	UpdatedAt              time.Time
}

func (PersistentSnapshotRecord) TableName() string { return "persistent_snapshots" }

// Store implements hal.Store over an in-memory ring buffer mirrored
// asynchronously to PostgreSQL.
type Store struct {
	db  *gorm.DB
	log *zap.Logger

	mu   sync.Mutex
	ring [RingSize]hal.FaultEvent
	head int
	size int

	queue  chan hal.FaultEvent
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewStore opens a PostgreSQL connection per cfg, auto-migrates the
// schema, and starts the asynchronous mirror worker.
func NewStore(cfg config.PostgreSQLConfig, log *zap.Logger) (*Store, error) {
	storeLog := log.With(zap.String("component", "faultlog"))

	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s TimeZone=UTC",
		cfg.Host, cfg.Username, cfg.Password, cfg.Database, cfg.Port, cfg.SSLMode)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("faultlog: failed to connect to postgresql: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("faultlog: failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdle)
	sqlDB.SetMaxOpenConns(cfg.MaxOpen)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&FaultEventRecord{}, &PersistentSnapshotRecord{}); err != nil {
		return nil, fmt.Errorf("faultlog: failed to migrate schema: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Store{
		db:     db,
		log:    storeLog,
		queue:  make(chan hal.FaultEvent, 256),
		ctx:    ctx,
		cancel: cancel,
	}
	s.wg.Add(1)
	go s.mirrorWorker()
	return s, nil
}

// Close stops the mirror worker, draining any queued events first.
func (s *Store) Close() error {
	s.cancel()
	s.wg.Wait()
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// LogFaultEvent appends ev to the local ring buffer and queues it for
// asynchronous PostgreSQL mirroring. A full mirror queue drops the
// event from the mirror but never from the ring.
func (s *Store) LogFaultEvent(ctx context.Context, ev hal.FaultEvent) error {
	s.mu.Lock()
	s.ring[s.head] = ev
	s.head = (s.head + 1) % RingSize
	if s.size < RingSize {
		s.size++
	}
	s.mu.Unlock()

	select {
	case s.queue <- ev:
	default:
		s.log.Warn("fault mirror queue full, dropping event",
			zap.String("pack_id", ev.PackID), zap.String("kind", ev.Kind))
	}
	return nil
}

// RecentEvents returns the ring buffer's contents, oldest first.
func (s *Store) RecentEvents() []hal.FaultEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]hal.FaultEvent, s.size)
	for i := 0; i < s.size; i++ {
		out[i] = s.ring[(s.head-s.size+i+RingSize)%RingSize]
	}
	return out
}

func (s *Store) mirrorWorker() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			for {
				select {
				case ev := <-s.queue:
					s.mirrorWithRecovery(ev)
				default:
					return
				}
			}
		case ev := <-s.queue:
			s.mirrorWithRecovery(ev)
		}
	}
}

func (s *Store) mirrorWithRecovery(ev hal.FaultEvent) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic recovered mirroring fault event", zap.Any("panic", r))
		}
	}()

	record := FaultEventRecord{
		TimestampMS: ev.TimestampMS,
		PackID:      ev.PackID,
		Kind:        ev.Kind,
		CellIndex:   ev.Index,
		Value:       ev.Value,
	}
	if err := s.db.Create(&record).Error; err != nil {
		s.log.Error("failed to mirror fault event", zap.Error(err), zap.String("pack_id", ev.PackID))
	}
}

// SavePersistent upserts the pack's SoC/cumulative snapshot.
func (s *Store) SavePersistent(ctx context.Context, snap hal.PersistentSnapshot) error {
	record := PersistentSnapshotRecord{
		PackID:                 snap.PackID,
		SOCHundredths:          snap.SOCHundredths,
		CumulativeChargeMAh:    snap.CumulativeChargeMAh,
		CumulativeDischargeMAh: snap.CumulativeDischargeMAh,
		RuntimeHours:           snap.RuntimeHours,
	}
	err := s.db.Save(&record).Error
	if err != nil {
		s.log.Error("failed to save persistent snapshot", zap.Error(err), zap.String("pack_id", snap.PackID))
	}
	return err
}

// LoadPersistent returns the pack's last saved snapshot, or a zero
// snapshot if none exists yet.
func (s *Store) LoadPersistent(ctx context.Context, packID string) (hal.PersistentSnapshot, error) {
	var record PersistentSnapshotRecord
	err := s.db.Where("pack_id = ?", packID).First(&record).Error
	if err == gorm.ErrRecordNotFound {
		return hal.PersistentSnapshot{PackID: packID}, nil
	}
	if err != nil {
		return hal.PersistentSnapshot{}, fmt.Errorf("faultlog: failed to load persistent snapshot: %w", err)
	}
	return hal.PersistentSnapshot{
		PackID:                 record.PackID,
		SOCHundredths:          record.SOCHundredths,
		CumulativeChargeMAh:    record.CumulativeChargeMAh,
		CumulativeDischargeMAh: record.CumulativeDischargeMAh,
		RuntimeHours:           record.RuntimeHours,
	}, nil
}

// HealthCheck pings the underlying PostgreSQL connection.
func (s *Store) HealthCheck() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

var _ hal.Store = (*Store)(nil)
