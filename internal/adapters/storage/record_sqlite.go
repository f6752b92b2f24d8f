package storage

import (
	"context"
	"fmt"
	"sync/atomic"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/lcalzada-xor/devicenames/internal/core/domain"
	"github.com/lcalzada-xor/devicenames/internal/core/ports"
)

const (
	metaRowID = 1
	batchSize = 500
)

// DeviceNameModel is the GORM model for one mapping row.
type DeviceNameModel struct {
	Identifier  string `gorm:"primaryKey"`
	DisplayName string `gorm:"not null"`
}

// TableName pins the table name.
func (DeviceNameModel) TableName() string { return "device_names" }

// DeviceNameMetaModel holds the single metadata row describing the stored table.
type DeviceNameMetaModel struct {
	ID          uint `gorm:"primaryKey;autoIncrement:false"`
	LastUpdated int64
	Entries     int
}

// TableName pins the table name.
func (DeviceNameMetaModel) TableName() string { return "device_name_meta" }

// SQLiteStore implements ports.RecordStore using GORM and SQLite.
type SQLiteStore struct {
	db     *gorm.DB
	closed atomic.Bool
}

// NewSQLiteStore opens (or creates) the database at path and migrates the schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, &domain.StorageError{Op: "open", Err: err}
	}

	if err := db.Use(tracing.NewPlugin()); err != nil {
		return nil, &domain.StorageError{Op: "instrument", Err: err}
	}

	return newSQLiteStore(db)
}

func newSQLiteStore(db *gorm.DB) (*SQLiteStore, error) {
	if err := db.AutoMigrate(&DeviceNameModel{}, &DeviceNameMetaModel{}); err != nil {
		return nil, &domain.StorageError{Op: "migrate", Err: err}
	}
	return &SQLiteStore{db: db}, nil
}

// Load implements ports.RecordStore
func (s *SQLiteStore) Load(ctx context.Context) (*domain.Record, error) {
	if s.closed.Load() {
		return nil, &domain.StorageError{Op: "load", Err: domain.ErrStoreClosed}
	}

	var (
		meta  DeviceNameMetaModel
		rows  []DeviceNameModel
		found bool
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ?", metaRowID).Limit(1).Find(&meta)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		found = true
		return tx.Find(&rows).Error
	})
	if err != nil {
		return nil, &domain.StorageError{Op: "load", Err: err}
	}
	if !found {
		return nil, nil
	}

	if len(rows) != meta.Entries {
		return nil, &domain.StorageError{
			Op:  "load",
			Err: fmt.Errorf("%w: expected %d rows, found %d", domain.ErrCorruptRecord, meta.Entries, len(rows)),
		}
	}

	table := make(domain.Table, len(rows))
	for _, row := range rows {
		table[row.Identifier] = row.DisplayName
	}
	return &domain.Record{Table: table, LastUpdated: meta.LastUpdated}, nil
}

// Save implements ports.RecordStore. The whole record is replaced in a
// single transaction.
func (s *SQLiteStore) Save(ctx context.Context, rec domain.Record) error {
	if s.closed.Load() {
		return &domain.StorageError{Op: "save", Err: domain.ErrStoreClosed}
	}

	rows := make([]DeviceNameModel, 0, len(rec.Table))
	for id, name := range rec.Table {
		rows = append(rows, DeviceNameModel{Identifier: id, DisplayName: name})
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&DeviceNameModel{}).Error; err != nil {
			return err
		}
		if len(rows) > 0 {
			if err := tx.CreateInBatches(rows, batchSize).Error; err != nil {
				return err
			}
		}
		meta := DeviceNameMetaModel{ID: metaRowID, LastUpdated: rec.LastUpdated, Entries: len(rows)}
		return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&meta).Error
	})
	if err != nil {
		return &domain.StorageError{Op: "save", Err: err}
	}
	return nil
}

// Close implements ports.RecordStore. Closing twice is a no-op.
func (s *SQLiteStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

var _ ports.RecordStore = (*SQLiteStore)(nil)
