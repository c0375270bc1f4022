package collector

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const MaxListLimit = 500

// OpenDB opens the SQLite file and brings its schema up to date. A failure here
// means the collector must not start.
func OpenDB(ctx context.Context, path string, log *zap.Logger) (*gorm.DB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("db path is empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	db, err := gorm.Open(sqlite.Open(sqliteDSN(path)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if err := db.WithContext(ctx).Exec("SELECT 1").Error; err != nil {
		closeDB(db)
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if err := EnsureSchema(ctx, db, log); err != nil {
		closeDB(db)
		return nil, err
	}
	return db, nil
}

func sqliteDSN(path string) string {
	return path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

func closeDB(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

// Store appends normalized events and reads them back by recency.
// Writes are serialized; reads run alongside them.
type Store struct {
	db *gorm.DB

	mu   sync.Mutex
	last time.Time
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Append assigns ID and ReceivedAt and inserts ev. ReceivedAt is strictly
// increasing across the appends of one Store.
func (s *Store) Append(ctx context.Context, ev *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if !now.After(s.last) {
		now = s.last.Add(time.Microsecond)
	}
	ev.ID = 0
	ev.ReceivedAt = now
	if err := s.db.WithContext(ctx).Create(ev).Error; err != nil {
		return &StorageError{Op: "append", Err: err}
	}
	s.last = now
	return nil
}

// Recent returns up to limit events, most recent first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	var events []Event
	if err := s.recency(ctx).Limit(limit).Find(&events).Error; err != nil {
		return nil, &StorageError{Op: "list", Err: err}
	}
	return events, nil
}

// All returns every stored event, most recent first.
func (s *Store) All(ctx context.Context) ([]Event, error) {
	var events []Event
	if err := s.recency(ctx).Find(&events).Error; err != nil {
		return nil, &StorageError{Op: "list all", Err: err}
	}
	return events, nil
}

func (s *Store) recency(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).Order("received_at DESC").Order("id DESC")
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return &StorageError{Op: "ping", Err: err}
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return &StorageError{Op: "ping", Err: err}
	}
	return nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
