// Package storage persists per-guild preferences and command history.
package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/keshon/datastore"
	"github.com/rs/zerolog/log"
)

const (
	commandHistoryLimit int = 20
	saveInterval            = time.Minute
)

type Storage struct {
	ds     *datastore.DataStore
	cancel context.CancelFunc
	mu     sync.Mutex // serializes read-modify-write of guild records
}

type CommandHistoryRecord struct {
	ChannelID   string    `json:"channel_id"`
	ChannelName string    `json:"channel_name"`
	GuildName   string    `json:"guild_name"`
	UserID      string    `json:"user_id"`
	Username    string    `json:"username"`
	Command     string    `json:"command"`
	Param       string    `json:"param"`
	Datetime    time.Time `json:"datetime"`
}

type Preferences struct {
	Volume int    `json:"volume,omitempty"`
	Repeat string `json:"repeat,omitempty"`
}

type Record struct {
	CommandsHistoryList []CommandHistoryRecord `json:"cmd_history"`
	Preferences         Preferences            `json:"preferences"`
}

// New opens the datastore file at filePath. The store flushes to disk
// periodically until ctx is done or Close is called.
func New(ctx context.Context, filePath string) (*Storage, error) {
	ctx, cancel := context.WithCancel(ctx)
	ds, err := datastore.New(ctx, filePath, datastore.WithSaveInterval(saveInterval))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("open datastore %s: %w", filePath, err)
	}
	return &Storage{ds: ds, cancel: cancel}, nil
}

// Close stops the periodic flush and writes the store to disk.
func (s *Storage) Close() error {
	s.cancel()
	return s.ds.Close()
}

func (s *Storage) getOrCreateGuildRecord(guildID string) (*Record, error) {
	var record Record
	exists, err := s.ds.Get(guildID, &record)
	if err != nil {
		return nil, err
	}
	if !exists {
		return &Record{CommandsHistoryList: []CommandHistoryRecord{}}, nil
	}

	if len(record.CommandsHistoryList) > commandHistoryLimit {
		record.CommandsHistoryList = record.CommandsHistoryList[len(record.CommandsHistoryList)-commandHistoryLimit:]
	}
	return &record, nil
}

func (s *Storage) update(guildID string, fn func(*Record)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, err := s.getOrCreateGuildRecord(guildID)
	if err != nil {
		return err
	}
	fn(record)
	if err := s.ds.Set(guildID, record); err != nil {
		return fmt.Errorf("save guild %s: %w", guildID, err)
	}
	return nil
}

func (s *Storage) read(guildID string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getOrCreateGuildRecord(guildID)
}

// AppendCommandToHistory appends a command history record for a guild,
// keeping only the most recent entries.
func (s *Storage) AppendCommandToHistory(guildID string, command CommandHistoryRecord) error {
	return s.update(guildID, func(r *Record) {
		r.CommandsHistoryList = append(r.CommandsHistoryList, command)
		if n := len(r.CommandsHistoryList); n > commandHistoryLimit {
			r.CommandsHistoryList = r.CommandsHistoryList[n-commandHistoryLimit:]
		}
	})
}

func (s *Storage) FetchCommandHistory(guildID string) ([]CommandHistoryRecord, error) {
	record, err := s.read(guildID)
	if err != nil {
		return nil, err
	}
	return record.CommandsHistoryList, nil
}

// Volume returns the stored volume for a guild.
func (s *Storage) Volume(guildID string) (int, bool) {
	record, err := s.read(guildID)
	if err != nil {
		log.Warn().Str("component", "storage").Str("guild", guildID).Err(err).Msg("failed to read preferences")
		return 0, false
	}
	return record.Preferences.Volume, record.Preferences.Volume > 0
}

func (s *Storage) SetVolume(guildID string, volume int) error {
	if volume < 1 || volume > 100 {
		return fmt.Errorf("volume %d out of range", volume)
	}
	return s.update(guildID, func(r *Record) { r.Preferences.Volume = volume })
}

// Repeat returns the stored loop mode for a guild.
func (s *Storage) Repeat(guildID string) (string, bool) {
	record, err := s.read(guildID)
	if err != nil {
		log.Warn().Str("component", "storage").Str("guild", guildID).Err(err).Msg("failed to read preferences")
		return "", false
	}
	return record.Preferences.Repeat, record.Preferences.Repeat != ""
}

func (s *Storage) SetRepeat(guildID, mode string) error {
	return s.update(guildID, func(r *Record) { r.Preferences.Repeat = mode })
}
