// Package index maintains a rebuildable SQLite mirror of the visit log for
// substring/date-range queries that the flat "visited.txt" format cannot
// serve efficiently. It is never the source of truth: visited.Store's text
// file is authoritative, and Rebuild can always regenerate this index from
// it.
//
// Grounded on internal/store/sqlite/sqlite.go's gorm.Open +
// AutoMigrate + Silent-logger wiring.
package index

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/vellum-gemini/vellum/internal/visited"
)

// VisitRow is the gorm model backing the visited_index table.
type VisitRow struct {
	URL   string `gorm:"primaryKey"`
	When  int64  `gorm:"index"`
	Flags int
}

// TableName pins the model to a fixed table name regardless of struct name.
func (VisitRow) TableName() string { return "visited_index" }

// Index is a derived, queryable mirror of a visited.Store.
type Index struct {
	db *gorm.DB
}

// Open opens (creating if absent) the sqlite mirror database under dataDir
// and runs AutoMigrate.
func Open(dataDir string) (*Index, error) {
	dbPath := filepath.Join(dataDir, "visited-index.db")
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("visited/index: open: %w", err)
	}
	if err := db.AutoMigrate(&VisitRow{}); err != nil {
		return nil, fmt.Errorf("visited/index: migrate: %w", err)
	}
	return &Index{db: db}, nil
}

// Close closes the underlying database connection.
func (idx *Index) Close() error {
	sqlDB, err := idx.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Rebuild truncates the mirror and repopulates it from store, which remains
// the sole source of truth.
func (idx *Index) Rebuild(ctx context.Context, store *visited.Store) error {
	return idx.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("DELETE FROM visited_index").Error; err != nil {
			return err
		}
		for _, r := range store.Recent(-1) {
			row := VisitRow{URL: r.URL, When: r.When.Unix(), Flags: r.Flags}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// SearchURL returns rows whose URL contains substr, most recent first,
// capped at limit.
func (idx *Index) SearchURL(ctx context.Context, substr string, limit int) ([]VisitRow, error) {
	var rows []VisitRow
	result := idx.db.WithContext(ctx).
		Where("url LIKE ?", "%"+substr+"%").
		Order("\"when\" DESC").
		Limit(limit).
		Find(&rows)
	return rows, result.Error
}

// SinceRange returns rows visited within [from, to], most recent first.
func (idx *Index) SinceRange(ctx context.Context, from, to time.Time) ([]VisitRow, error) {
	var rows []VisitRow
	result := idx.db.WithContext(ctx).
		Where("\"when\" BETWEEN ? AND ?", from.Unix(), to.Unix()).
		Order("\"when\" DESC").
		Find(&rows)
	return rows, result.Error
}
