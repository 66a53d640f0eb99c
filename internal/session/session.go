// SPDX-FileCopyrightText: (C) 2025 Red Hat Inc.
// SPDX-License-Identifier: Apache 2.0

// Package session persists association bookkeeping: which SPIs exist,
// which transform and peer they're bound to, and how far their
// counters have advanced. It never stores root keys or salts — those
// live only in the esp.Context that provisioned them.
package session

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// AssociationRecord is the gorm model backing one tracked SPI.
type AssociationRecord struct {
	SPI        uint32 `gorm:"primaryKey"`
	Transform  string
	Peer       string
	Role       string // "client" or "server"
	OutSeqNum  uint32
	InRightSeq uint32
	CreatedAt  time.Time
	LastSeenAt time.Time
}

func (AssociationRecord) TableName() string { return "associations" }

// Store wraps the gorm handle used to read and update association
// records.
type Store struct {
	db *gorm.DB
}

// InitDB opens dbType ("sqlite" or "postgres") at dsn and migrates the
// associations table.
func InitDB(dbType, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("session: dsn is required")
	}

	var dialector gorm.Dialector
	switch strings.ToLower(dbType) {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("session: unsupported database type %q (must be \"sqlite\" or \"postgres\")", dbType)
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("session: open database: %w", err)
	}
	if err := db.AutoMigrate(&AssociationRecord{}); err != nil {
		return nil, fmt.Errorf("session: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Register creates or replaces the bookkeeping row for spi.
func (s *Store) Register(spi uint32, transform, peer, role string) error {
	rec := AssociationRecord{
		SPI:        spi,
		Transform:  transform,
		Peer:       peer,
		Role:       role,
		CreatedAt:  now(),
		LastSeenAt: now(),
	}
	return s.db.Save(&rec).Error
}

// Touch updates the counters and last-seen timestamp for spi after a
// successful send or receive.
func (s *Store) Touch(spi uint32, outSeqNum, inRightSeq uint32) error {
	return s.db.Model(&AssociationRecord{}).
		Where("spi = ?", spi).
		Updates(map[string]any{
			"out_seq_num":  outSeqNum,
			"in_right_seq": inRightSeq,
			"last_seen_at": now(),
		}).Error
}

// Get returns the record for spi.
func (s *Store) Get(spi uint32) (AssociationRecord, error) {
	var rec AssociationRecord
	err := s.db.First(&rec, "spi = ?", spi).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return AssociationRecord{}, fmt.Errorf("session: no association for spi %d", spi)
	}
	return rec, err
}

// List returns every tracked association, most recently seen first.
func (s *Store) List() ([]AssociationRecord, error) {
	var recs []AssociationRecord
	err := s.db.Order("last_seen_at desc").Find(&recs).Error
	return recs, err
}

// now is a seam so tests can avoid depending on wall-clock time going
// through this package's public API.
var now = time.Now
