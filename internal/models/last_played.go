// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/autobrr/rdwatch/internal/dbinterface"
)

var ErrLastPlayedNotFound = errors.New("last played record not found")

// LastPlayed remembers which file of a torrent was opened most recently.
type LastPlayed struct {
	Key       string    `json:"key"`
	TorrentID string    `json:"torrentId,omitempty"`
	Path      string    `json:"path"`
	Bytes     int64     `json:"bytes"`
	FileID    int       `json:"fileId"`
	Index     int       `json:"index"`
	PlayedAt  time.Time `json:"playedAt"`
}

// LastPlayedKey identifies a torrent independently of its debrid id, so the
// record survives the torrent being re-added.
func LastPlayedKey(filename string, bytes int64) string {
	d := xxhash.New()
	_, _ = d.WriteString(strings.ToLower(strings.TrimSpace(filename)))
	_, _ = d.WriteString("\x00")
	_, _ = d.WriteString(strconv.FormatInt(bytes, 10))
	return fmt.Sprintf("%016x", d.Sum64())
}

type LastPlayedStore struct {
	db dbinterface.Querier
}

func NewLastPlayedStore(db dbinterface.Querier) *LastPlayedStore {
	return &LastPlayedStore{db: db}
}

func (s *LastPlayedStore) Get(ctx context.Context, key string) (*LastPlayed, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT key, torrent_id, path, bytes, file_id, file_index, played_at
		FROM last_played
		WHERE key = ?
	`, key)

	var lp LastPlayed
	err := row.Scan(&lp.Key, &lp.TorrentID, &lp.Path, &lp.Bytes, &lp.FileID, &lp.Index, &lp.PlayedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrLastPlayedNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last played %s: %w", key, err)
	}

	return &lp, nil
}

// Set inserts or replaces the record for lp.Key.
func (s *LastPlayedStore) Set(ctx context.Context, lp *LastPlayed) error {
	if lp == nil || strings.TrimSpace(lp.Key) == "" {
		return errors.New("last played key is required")
	}
	if lp.PlayedAt.IsZero() {
		lp.PlayedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO last_played (key, torrent_id, path, bytes, file_id, file_index, played_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			torrent_id = excluded.torrent_id,
			path = excluded.path,
			bytes = excluded.bytes,
			file_id = excluded.file_id,
			file_index = excluded.file_index,
			played_at = excluded.played_at
	`, lp.Key, lp.TorrentID, lp.Path, lp.Bytes, lp.FileID, lp.Index, lp.PlayedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to save last played %s: %w", lp.Key, err)
	}

	return nil
}

func (s *LastPlayedStore) Delete(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM last_played WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("failed to delete last played %s: %w", key, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrLastPlayedNotFound
	}
	return nil
}
