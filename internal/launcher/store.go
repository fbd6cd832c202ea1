package launcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	dbpkg "crabstack.local/projects/crab-stk/internal/db"
)

// State is the persisted launcher entry.
type State struct {
	Installed bool      `json:"installed"`
	Label     string    `json:"label,omitempty"`
	Icon      []byte    `json:"icon,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Store interface {
	Load(context.Context) (State, error)
	Save(context.Context, State) error
	Close() error
}

type MemoryStore struct {
	mu    sync.Mutex
	state State
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load(context.Context) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.state
	out.Icon = append([]byte(nil), s.state.Icon...)
	return out, nil
}

func (s *MemoryStore) Save(_ context.Context, state State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	state.Icon = append([]byte(nil), state.Icon...)
	s.state = state
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}

const launcherRowID = 1

type GormStore struct {
	db *gorm.DB
}

func NewGormStore(driver, dsn string) (*GormStore, error) {
	db, err := dbpkg.Open(driver, dsn, &stateRow{})
	if err != nil {
		return nil, fmt.Errorf("open launcher store: %w", err)
	}
	return &GormStore{db: db}, nil
}

// NewGormStoreFromDB shares an existing handle, migrating the launcher table.
func NewGormStoreFromDB(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&stateRow{}); err != nil {
		return nil, fmt.Errorf("migrate launcher store: %w", err)
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) Load(ctx context.Context) (State, error) {
	var row stateRow
	if err := s.db.WithContext(ctx).Where("id = ?", launcherRowID).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return State{}, nil
		}
		return State{}, fmt.Errorf("load launcher state: %w", err)
	}
	return State{
		Installed: row.Installed,
		Label:     row.Label,
		Icon:      row.Icon,
		UpdatedAt: row.UpdatedAt.UTC(),
	}, nil
}

func (s *GormStore) Save(ctx context.Context, state State) error {
	row := stateRow{
		ID:        launcherRowID,
		Installed: state.Installed,
		Label:     state.Label,
		Icon:      state.Icon,
		UpdatedAt: state.UpdatedAt,
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"installed", "label", "icon", "updated_at"}),
		}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("save launcher state: %w", err)
	}
	return nil
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	return sqlDB.Close()
}

type stateRow struct {
	ID        int       `gorm:"primaryKey;autoIncrement:false"`
	Installed bool      `gorm:"not null"`
	Label     string    `gorm:"size:256"`
	Icon      []byte
	UpdatedAt time.Time `gorm:"autoUpdateTime:false;not null"`
}

func (stateRow) TableName() string {
	return "stk_launcher"
}
