package collector

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// migration is one additive schema step. Apply must be safe to run against a
// store that already has the change, because stores created before version
// tracking existed carry no record of what they contain.
type migration struct {
	Version int
	Name    string
	Apply   func(tx *gorm.DB) error
}

var migrations = []migration{
	{Version: 1, Name: "create_events", Apply: createEventsTable},
	{Version: 2, Name: "add_card_and_lists", Apply: addColumns("card_id", "from_list", "to_list")},
	{Version: 3, Name: "add_raw_payload", Apply: addRawPayload},
}

// EnsureSchema brings the store up to the current events shape. Columns are
// only ever added. Once every step is recorded a call performs no writes.
func EnsureSchema(ctx context.Context, db *gorm.DB, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	db = db.WithContext(ctx)

	m := db.Migrator()
	if !m.HasTable(&SchemaMigration{}) {
		if err := m.CreateTable(&SchemaMigration{}); err != nil {
			return fmt.Errorf("create schema_migrations: %w", err)
		}
	}

	var applied []SchemaMigration
	if err := db.Find(&applied).Error; err != nil {
		return fmt.Errorf("read schema_migrations: %w", err)
	}
	done := make(map[int]bool, len(applied))
	for _, a := range applied {
		done[a.Version] = true
	}

	for _, step := range migrations {
		if done[step.Version] {
			continue
		}
		logger.Info("applying schema migration", zap.Int("version", step.Version), zap.String("name", step.Name))
		err := db.Transaction(func(tx *gorm.DB) error {
			if err := step.Apply(tx); err != nil {
				return err
			}
			return tx.Create(&SchemaMigration{
				Version:   step.Version,
				Name:      step.Name,
				AppliedAt: time.Now().UTC(),
			}).Error
		})
		if err != nil {
			return fmt.Errorf("schema migration %d (%s): %w", step.Version, step.Name, err)
		}
	}
	return nil
}

// SchemaVersion returns the highest recorded migration version, 0 for an empty store.
func SchemaVersion(ctx context.Context, db *gorm.DB) (int, error) {
	db = db.WithContext(ctx)
	if !db.Migrator().HasTable(&SchemaMigration{}) {
		return 0, nil
	}
	var version int
	err := db.Model(&SchemaMigration{}).Select("COALESCE(MAX(version), 0)").Scan(&version).Error
	return version, err
}

func createEventsTable(tx *gorm.DB) error {
	m := tx.Migrator()
	if m.HasTable(&Event{}) {
		return nil
	}
	return m.CreateTable(&legacyEvent{})
}

func addColumns(names ...string) func(tx *gorm.DB) error {
	return func(tx *gorm.DB) error {
		m := tx.Migrator()
		for _, name := range names {
			if m.HasColumn(&Event{}, name) {
				continue
			}
			if err := m.AddColumn(&Event{}, name); err != nil {
				return fmt.Errorf("add column %s: %w", name, err)
			}
		}
		return nil
	}
}

// addRawPayload covers stores written by the first collector release, which
// kept the request body in raw_data.
func addRawPayload(tx *gorm.DB) error {
	m := tx.Migrator()
	if m.HasColumn(&Event{}, "raw_payload") {
		return nil
	}
	if err := m.AddColumn(&Event{}, "raw_payload"); err != nil {
		return fmt.Errorf("add column raw_payload: %w", err)
	}
	if !m.HasColumn(&Event{}, "raw_data") {
		return nil
	}
	return tx.Model(&Event{}).
		Where("raw_payload IS NULL").
		Update("raw_payload", gorm.Expr("raw_data")).Error
}
