package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"modkeeper/db"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DBStore keeps documents as rows of the documents table.
type DBStore struct {
	DB *gorm.DB
}

func NewDBStore(conn *gorm.DB) *DBStore {
	return &DBStore{DB: conn}
}

func (s *DBStore) Load(key string, v any) error {
	var doc db.Document
	err := s.DB.Where("doc_key = ?", key).First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load document '%s': %w", key, err)
	}
	if err := json.Unmarshal([]byte(doc.Body), v); err != nil {
		return fmt.Errorf("failed to decode document '%s': %w", key, err)
	}
	return nil
}

func (s *DBStore) Save(key string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode document '%s': %w", key, err)
	}
	doc := db.Document{Key: key, Body: string(body), UpdatedAt: time.Now()}
	err = s.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "doc_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"body", "updated_at"}),
	}).Create(&doc).Error
	if err != nil {
		return fmt.Errorf("failed to save document '%s': %w", key, err)
	}
	return nil
}

func (s *DBStore) Delete(key string) error {
	if err := s.DB.Where("doc_key = ?", key).Delete(&db.Document{}).Error; err != nil {
		return fmt.Errorf("failed to delete document '%s': %w", key, err)
	}
	return nil
}
