package recordstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type recordRow struct {
	Seq        uint64    `gorm:"primaryKey;autoIncrement"`
	Collection string    `gorm:"not null;uniqueIndex:idx_records_collection_id,priority:1"`
	RecordID   string    `gorm:"column:record_id;not null;uniqueIndex:idx_records_collection_id,priority:2"`
	Body       string    `gorm:"not null"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (recordRow) TableName() string { return "records" }

// SQLite keeps documents in a single table through gorm. Filters are evaluated
// in process after loading the collection in insertion order.
type SQLite struct {
	db *gorm.DB
	// writeMu serialises writers; sqlite allows only one at a time.
	writeMu sync.Mutex
}

// OpenSQLite opens dsn (a file path or a "file:...?mode=memory" URI) and prepares the schema.
func OpenSQLite(dsn string) (*SQLite, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return NewSQLite(db)
}

func NewSQLite(db *gorm.DB) (*SQLite, error) {
	if err := db.AutoMigrate(&recordRow{}); err != nil {
		return nil, fmt.Errorf("migrate records: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) FindByID(ctx context.Context, collection, id string) (json.RawMessage, error) {
	var row recordRow
	err := s.db.WithContext(ctx).Where("collection = ? AND record_id = ?", collection, id).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find %s/%s: %w", collection, id, err)
	}
	return json.RawMessage(row.Body), nil
}

func (s *SQLite) FindMany(ctx context.Context, collection string, filter Filter) ([]json.RawMessage, error) {
	var rows []recordRow
	if err := s.db.WithContext(ctx).Where("collection = ?", collection).Order("seq").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}
	out := []json.RawMessage{}
	for _, row := range rows {
		doc, err := decodeDoc([]byte(row.Body))
		if err != nil {
			return nil, err
		}
		if filter.Matches(doc) {
			out = append(out, json.RawMessage(row.Body))
		}
	}
	return out, nil
}

func (s *SQLite) Upsert(ctx context.Context, collection, id string, patch Patch, conditions Conditions) (json.RawMessage, error) {
	if id == "" {
		return nil, ErrMissingID
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var body []byte
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row recordRow
		err := tx.Where("collection = ? AND record_id = ?", collection, id).First(&row).Error
		found := err == nil
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("find %s/%s: %w", collection, id, err)
		}

		var existing map[string]any
		if found {
			if existing, err = decodeDoc([]byte(row.Body)); err != nil {
				return err
			}
		}
		if len(conditions) > 0 {
			if !found {
				return ErrNotFound
			}
			if !matchAll(existing, conditions) {
				return ErrConditionFailed
			}
		}

		next, err := json.Marshal(merge(existing, patch, id))
		if err != nil {
			return fmt.Errorf("encode record %s: %w", id, err)
		}
		body = next
		if !found {
			return tx.Create(&recordRow{Collection: collection, RecordID: id, Body: string(next)}).Error
		}
		return tx.Model(&row).Updates(map[string]any{"body": string(next), "updated_at": time.Now().UTC()}).Error
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

func (s *SQLite) Delete(ctx context.Context, collection, id string, conditions Conditions) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row recordRow
		err := tx.Where("collection = ? AND record_id = ?", collection, id).First(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("find %s/%s: %w", collection, id, err)
		}
		if len(conditions) > 0 {
			existing, err := decodeDoc([]byte(row.Body))
			if err != nil {
				return err
			}
			if !matchAll(existing, conditions) {
				return ErrConditionFailed
			}
		}
		if err := tx.Delete(&row).Error; err != nil {
			return fmt.Errorf("delete %s/%s: %w", collection, id, err)
		}
		return nil
	})
}

func (s *SQLite) InsertMany(ctx context.Context, collection string, docs []json.RawMessage) error {
	if len(docs) == 0 {
		return nil
	}
	rows := make([]recordRow, 0, len(docs))
	seen := make(map[string]struct{}, len(docs))
	for _, raw := range docs {
		id, _, err := docID(raw)
		if err != nil {
			return err
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: %s/%s", ErrDuplicate, collection, id)
		}
		seen[id] = struct{}{}
		rows = append(rows, recordRow{Collection: collection, RecordID: id, Body: string(raw)})
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, row := range rows {
			var count int64
			if err := tx.Model(&recordRow{}).Where("collection = ? AND record_id = ?", collection, row.RecordID).Count(&count).Error; err != nil {
				return fmt.Errorf("check %s/%s: %w", collection, row.RecordID, err)
			}
			if count > 0 {
				return fmt.Errorf("%w: %s/%s", ErrDuplicate, collection, row.RecordID)
			}
		}
		if err := tx.Create(&rows).Error; err != nil {
			return fmt.Errorf("insert %s: %w", collection, err)
		}
		return nil
	})
}

func (s *SQLite) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *SQLite) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
