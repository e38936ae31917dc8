// Package store persists the trade journal to sqlite: one row per position
// plus an append-only event log. The journal is an observer of the engine's
// event stream and never feeds back into trading decisions.
package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"scalpd/internal/engine"
	"scalpd/internal/logger"
)

type Journal struct {
	db *gorm.DB
}

func NewJournal(path string) (*Journal, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("journal path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	return newJournal(db)
}

func NewJournalFromDB(db *gorm.DB) (*Journal, error) {
	if db == nil {
		return nil, fmt.Errorf("gorm db cannot be nil")
	}
	return newJournal(db)
}

func newJournal(db *gorm.DB) (*Journal, error) {
	if err := db.AutoMigrate(&PositionModel{}, &TradeEventModel{}); err != nil {
		return nil, err
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(2)
		sqlDB.SetMaxIdleConns(2)
	}
	return &Journal{db: db}, nil
}

func (j *Journal) Close() error {
	if j.db == nil {
		return nil
	}
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Run consumes the engine's event stream until it closes, recording every
// event and upserting the position row on lifecycle milestones. Persistence
// failures are logged and skipped; the journal must never stall trading.
func (j *Journal) Run(ctx context.Context, events <-chan engine.TradeEvent, eng *engine.Engine) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := j.RecordEvent(ctx, ev); err != nil {
				logger.Errorf("Journal: record event %s: %v", ev.ID, err)
			}
			if ev.PositionID == "" {
				continue
			}
			if pos, ok := findPosition(eng, ev.PositionID); ok {
				if err := j.SavePosition(ctx, pos); err != nil {
					logger.Errorf("Journal: save position %s: %v", ev.PositionID, err)
				}
			}
		}
	}
}

func findPosition(eng *engine.Engine, id string) (engine.Position, bool) {
	for _, p := range eng.Positions() {
		if p.ID == id {
			return p, true
		}
	}
	for _, p := range eng.Archive() {
		if p.ID == id {
			return p, true
		}
	}
	return engine.Position{}, false
}

func (j *Journal) RecordEvent(ctx context.Context, ev engine.TradeEvent) error {
	row := TradeEventModel{
		EventID:     ev.ID,
		PositionID:  ev.PositionID,
		Symbol:      ev.Symbol,
		Type:        string(ev.Type),
		State:       ev.State,
		Reason:      ev.Reason,
		Price:       ev.Price,
		Quantity:    ev.Quantity,
		RealizedPnL: ev.RealizedPnL,
		At:          ev.At.UnixMilli(),
	}
	return j.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row).Error
}

func (j *Journal) SavePosition(ctx context.Context, pos engine.Position) error {
	row := positionRow(pos)
	return j.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&row).Error
}

// Events returns the recorded event log for one position in order.
func (j *Journal) Events(ctx context.Context, positionID string) ([]TradeEventModel, error) {
	var rows []TradeEventModel
	err := j.db.WithContext(ctx).
		Where("position_id = ?", positionID).
		Order("at asc, id asc").
		Find(&rows).Error
	return rows, err
}

// RecentPositions returns the latest journalled positions, newest first.
func (j *Journal) RecentPositions(ctx context.Context, limit int) ([]PositionModel, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []PositionModel
	err := j.db.WithContext(ctx).
		Order("opened_at desc").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func positionRow(pos engine.Position) PositionModel {
	row := PositionModel{
		ID:          pos.ID,
		Symbol:      pos.Plan.Symbol,
		Direction:   string(pos.Plan.Direction),
		Entry:       pos.Plan.Entry,
		Size:        pos.Plan.Size,
		Leverage:    pos.Plan.Leverage,
		StopLoss:    pos.Plan.StopLoss,
		TP1:         pos.Plan.TP1,
		TP2:         pos.Plan.TP2,
		MaxRisk:     pos.Plan.MaxRisk,
		State:       pos.State.String(),
		EntryPrice:  pos.EntryPrice,
		FilledSize:  pos.FilledSize,
		ClosedSize:  pos.ClosedSize,
		CurrentStop: pos.CurrentStop,
		RealizedPnL: pos.RealizedPnL,
		CloseReason: pos.CloseReason,
		Orphaned:    pos.Orphaned,
	}
	if !pos.OpenedAt.IsZero() {
		row.OpenedAt = pos.OpenedAt.UnixMilli()
	}
	if pos.State.Terminal() {
		row.ClosedAt = time.Now().UnixMilli()
	}
	return row
}
