package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/acolita/sshkeeper/internal/adapters/realclock"
	"github.com/acolita/sshkeeper/internal/connection"
	"github.com/acolita/sshkeeper/internal/ports"
)

// connectionRecord is the row layout of the connection_states table.
type connectionRecord struct {
	ConnectionID      string `gorm:"primaryKey"`
	Status            string `gorm:"not null;default:'disconnected'"`
	Config            string `gorm:"type:text"`
	LastActivity      time.Time
	ReconnectAttempts int
	LastError         string `gorm:"type:text"`
	UpdatedAt         time.Time
}

func (connectionRecord) TableName() string { return "connection_states" }

// SQLStore keeps snapshots in a SQL database through gorm.
type SQLStore struct {
	db    *gorm.DB
	clock ports.Clock
}

// NewSQLStore wraps db and migrates the schema.
func NewSQLStore(db *gorm.DB, clock ports.Clock) (*SQLStore, error) {
	if clock == nil {
		clock = realclock.New()
	}
	if err := db.AutoMigrate(&connectionRecord{}); err != nil {
		return nil, fmt.Errorf("auto-migrate: %w", err)
	}
	return &SQLStore{db: db, clock: clock}, nil
}

// OpenSQLite opens (creating if needed) a SQLite database at path.
func OpenSQLite(path string, clock ports.Clock) (*SQLStore, error) {
	if dir := filepath.Dir(path); dir != "" && path != ":memory:" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}
	if path == ":memory:" {
		// Each pooled connection would get its own empty database.
		sqlDB.SetMaxOpenConns(1)
	} else if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	return NewSQLStore(db, clock)
}

// Close closes the underlying connection pool.
func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Get implements Store.
func (s *SQLStore) Get(id string) (Snapshot, bool, error) {
	var rec connectionRecord
	err := s.db.Where("connection_id = ?", id).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("get %s: %w", id, err)
	}
	snap, err := rec.snapshot()
	if err != nil {
		return Snapshot{}, false, err
	}
	return snap, true, nil
}

// All implements Store.
func (s *SQLStore) All() ([]Snapshot, error) {
	var recs []connectionRecord
	if err := s.db.Order("connection_id").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("list connection states: %w", err)
	}

	out := make([]Snapshot, 0, len(recs))
	for _, rec := range recs {
		snap, err := rec.snapshot()
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, nil
}

// Update implements Store.
func (s *SQLStore) Update(id string, u Update) (Snapshot, error) {
	var result Snapshot
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var existing Snapshot
		var rec connectionRecord
		err := tx.Where("connection_id = ?", id).First(&rec).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
		case err != nil:
			return err
		default:
			if existing, err = rec.snapshot(); err != nil {
				return err
			}
		}

		result = apply(existing, id, u, s.clock.Now())
		row, err := recordOf(result)
		if err != nil {
			return err
		}
		return tx.Save(&row).Error
	})
	if err != nil {
		return Snapshot{}, fmt.Errorf("update %s: %w", id, err)
	}
	return result, nil
}

// Delete implements Store.
func (s *SQLStore) Delete(id string) error {
	if err := s.db.Where("connection_id = ?", id).Delete(&connectionRecord{}).Error; err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	return nil
}

// Clear implements Store.
func (s *SQLStore) Clear() error {
	if err := s.db.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&connectionRecord{}).Error; err != nil {
		return fmt.Errorf("clear connection states: %w", err)
	}
	return nil
}

func recordOf(snap Snapshot) (connectionRecord, error) {
	cfg, err := json.Marshal(snap.Config)
	if err != nil {
		return connectionRecord{}, fmt.Errorf("marshal config: %w", err)
	}
	rec := connectionRecord{
		ConnectionID:      snap.ConnectionID,
		Status:            snap.Status.String(),
		Config:            string(cfg),
		LastActivity:      snap.LastActivity,
		ReconnectAttempts: snap.ReconnectAttempts,
	}
	if snap.LastError != nil {
		le, err := json.Marshal(snap.LastError)
		if err != nil {
			return connectionRecord{}, fmt.Errorf("marshal last error: %w", err)
		}
		rec.LastError = string(le)
	}
	return rec, nil
}

func (r connectionRecord) snapshot() (Snapshot, error) {
	status, ok := connection.ParseStatus(r.Status)
	if !ok {
		return Snapshot{}, fmt.Errorf("connection %s: unknown status %q", r.ConnectionID, r.Status)
	}
	snap := Snapshot{
		ConnectionID:      r.ConnectionID,
		Status:            status,
		LastActivity:      r.LastActivity,
		ReconnectAttempts: r.ReconnectAttempts,
	}
	if r.Config != "" {
		if err := json.Unmarshal([]byte(r.Config), &snap.Config); err != nil {
			return Snapshot{}, fmt.Errorf("connection %s: parse config: %w", r.ConnectionID, err)
		}
	}
	if r.LastError != "" {
		snap.LastError = &SavedError{}
		if err := json.Unmarshal([]byte(r.LastError), snap.LastError); err != nil {
			return Snapshot{}, fmt.Errorf("connection %s: parse last error: %w", r.ConnectionID, err)
		}
	}
	return snap, nil
}

var _ Store = (*SQLStore)(nil)
