// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package storages

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gorm_logger "gorm.io/gorm/logger"

	"github.com/interviewx/client/pkg/commons"
	"github.com/interviewx/client/pkg/types"
)

// ClientState is one persisted key.
type ClientState struct {
	Key       string    `gorm:"column:state_key;type:varchar(200);primaryKey"`
	Value     string    `gorm:"column:value;type:text;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (ClientState) TableName() string { return "client_states" }

type sqliteStorage struct {
	db     *gorm.DB
	logger commons.Logger
}

// NewSqliteStorage opens (or creates) the database at path and migrates
// the client_states table.
func NewSqliteStorage(logger commons.Logger, path string) (Storage, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gorm_logger.Default.LogMode(gorm_logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("unable to open sqlite store %s: %w", path, err)
	}
	if err := db.AutoMigrate(&ClientState{}); err != nil {
		return nil, fmt.Errorf("unable to migrate sqlite store: %w", err)
	}
	logger.Debugf("sqlite client state at %s", path)
	return &sqliteStorage{db: db, logger: logger}, nil
}

func (s *sqliteStorage) Get(ctx context.Context, key string) (string, error) {
	var row ClientState
	err := s.db.WithContext(ctx).Where("state_key = ?", key).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", types.Errorf(types.KindNotFound, "storage.get", "key %s", key)
	}
	if err != nil {
		return "", fmt.Errorf("sqlite get %s: %w", key, err)
	}
	return row.Value, nil
}

func (s *sqliteStorage) Set(ctx context.Context, key, value string) error {
	row := ClientState{Key: key, Value: value}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "state_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("sqlite set %s: %w", key, err)
	}
	return nil
}

func (s *sqliteStorage) Delete(ctx context.Context, key string) error {
	if err := s.db.WithContext(ctx).Where("state_key = ?", key).Delete(&ClientState{}).Error; err != nil {
		return fmt.Errorf("sqlite delete %s: %w", key, err)
	}
	return nil
}

func (s *sqliteStorage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
