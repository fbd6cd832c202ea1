package journal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	dbpkg "crabstack.local/projects/crab-stk/internal/db"
	"crabstack.local/projects/crab-stk/internal/notify"
	"crabstack.local/projects/crab-stk/internal/stk"
)

type GormStore struct {
	db *gorm.DB
}

func NewGormStore(driver, dsn string) (*GormStore, error) {
	db, err := dbpkg.Open(driver, dsn, &entryRow{})
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return &GormStore{db: db}, nil
}

// NewGormStoreFromDB shares an existing handle, migrating the journal table.
func NewGormStoreFromDB(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&entryRow{}); err != nil {
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) Record(ctx context.Context, event notify.Event) error {
	status, ok := StatusFor(event.Type)
	if !ok || !validCommandID(event.CommandID) {
		return nil
	}
	incoming := entryFromEvent(event, status)

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row entryRow
		err := tx.Where("command_id = ?", event.CommandID).Take(&row).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			next := entryRowFromEntry(incoming)
			if err := tx.Create(&next).Error; err != nil {
				return fmt.Errorf("insert journal entry: %w", err)
			}
			return nil
		case err != nil:
			return fmt.Errorf("load journal entry: %w", err)
		}

		next := entryRowFromEntry(merge(row.toEntry(), incoming))
		if err := tx.Save(&next).Error; err != nil {
			return fmt.Errorf("update journal entry: %w", err)
		}
		return nil
	})
}

func (s *GormStore) Get(ctx context.Context, commandID string) (Entry, error) {
	var row entryRow
	if err := s.db.WithContext(ctx).Where("command_id = ?", commandID).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, commandID)
		}
		return Entry{}, fmt.Errorf("get journal entry: %w", err)
	}
	return row.toEntry(), nil
}

func (s *GormStore) List(ctx context.Context, slot stk.SlotID, limit int) ([]Entry, error) {
	var rows []entryRow
	err := s.db.WithContext(ctx).
		Where("slot = ?", int(slot)).
		Order("first_sequence DESC").
		Limit(normalizeLimit(limit)).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list journal entries: %w", err)
	}
	out := make([]Entry, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toEntry())
	}
	return out, nil
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	return sqlDB.Close()
}

type entryRow struct {
	CommandID     string    `gorm:"primaryKey;size:64"`
	Slot          int       `gorm:"index:idx_journal_slot_seq,priority:1;not null"`
	CommandType   string    `gorm:"size:64;not null"`
	Status        string    `gorm:"size:32;not null"`
	Result        *int      `gorm:"column:result"`
	Detail        string    `gorm:"size:512"`
	FirstSequence int64     `gorm:"index:idx_journal_slot_seq,priority:2;not null"`
	Sequence      int64     `gorm:"not null"`
	ReceivedAt    time.Time `gorm:"not null"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime:false;not null"`
}

func (entryRow) TableName() string {
	return "stk_command_journal"
}

func entryRowFromEntry(e Entry) entryRow {
	row := entryRow{
		CommandID:     e.CommandID,
		Slot:          int(e.Slot),
		CommandType:   string(e.CommandType),
		Status:        string(e.Status),
		Detail:        e.Detail,
		FirstSequence: e.FirstSequence,
		Sequence:      e.Sequence,
		ReceivedAt:    e.ReceivedAt,
		UpdatedAt:     e.UpdatedAt,
	}
	if e.Result != nil {
		code := int(*e.Result)
		row.Result = &code
	}
	return row
}

func (r entryRow) toEntry() Entry {
	e := Entry{
		CommandID:     r.CommandID,
		Slot:          stk.SlotID(r.Slot),
		CommandType:   stk.CommandType(r.CommandType),
		Status:        Status(r.Status),
		Detail:        r.Detail,
		FirstSequence: r.FirstSequence,
		Sequence:      r.Sequence,
		ReceivedAt:    r.ReceivedAt.UTC(),
		UpdatedAt:     r.UpdatedAt.UTC(),
	}
	if r.Result != nil {
		code := stk.ResultCode(*r.Result)
		e.Result = &code
	}
	return e
}
