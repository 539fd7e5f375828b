package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/arjunvm/pivot_sentry/internal/models"
)

// dayKey is the map key layout for level sets.
const dayKey = "2006-01-02"

// JSONStorage persists engine state to a single JSON file with atomic writes.
type JSONStorage struct {
	mu       sync.RWMutex
	filepath string
	data     *storageData
}

type storageData struct {
	LevelSets       map[string]*models.LevelSet `json:"level_sets"`
	CurrentPosition *models.Position            `json:"current_position"`
	Trades          []models.TradeEvent         `json:"trades"`
	Credential      *Credential                 `json:"credential,omitempty"`
	LastUpdated     time.Time                   `json:"last_updated"`
}

// NewJSONStorage creates a JSON-file storage, loading existing data if present.
func NewJSONStorage(filepath string) (*JSONStorage, error) {
	s := &JSONStorage{
		filepath: filepath,
		data: &storageData{
			LevelSets: make(map[string]*models.LevelSet),
		},
	}

	if _, err := os.Stat(filepath); err == nil {
		if err := s.Load(); err != nil {
			return nil, fmt.Errorf("loading storage: %w", err)
		}
	}

	return s, nil
}

// Load reads the backing file into memory.
func (s *JSONStorage) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.filepath)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(raw, &s.data); err != nil {
		return err
	}
	if s.data.LevelSets == nil {
		s.data.LevelSets = make(map[string]*models.LevelSet)
	}

	return nil
}

// Save writes the in-memory state to disk via tmp file + atomic rename.
func (s *JSONStorage) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

func (s *JSONStorage) saveLocked() error {
	s.data.LastUpdated = time.Now().UTC()

	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}

	tmpFile := s.filepath + ".tmp"
	if err := os.WriteFile(tmpFile, raw, 0o600); err != nil {
		return err
	}

	return os.Rename(tmpFile, s.filepath)
}

// LevelSet returns the persisted level set for a trading day, or ErrNotFound.
func (s *JSONStorage) LevelSet(forDay time.Time) (*models.LevelSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	levels, ok := s.data.LevelSets[forDay.Format(dayKey)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *levels
	return &cp, nil
}

// SaveLevelSet persists a level set keyed by its ForDay. An existing entry
// for the same day is never overwritten: level creation is idempotent.
func (s *JSONStorage) SaveLevelSet(levels *models.LevelSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := levels.ForDay.Format(dayKey)
	if _, exists := s.data.LevelSets[key]; exists {
		return nil
	}
	cp := *levels
	s.data.LevelSets[key] = &cp
	return s.saveLocked()
}

// CurrentPosition returns the open position, or nil when flat.
func (s *JSONStorage) CurrentPosition() *models.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.data.CurrentPosition == nil {
		return nil
	}
	cp := *s.data.CurrentPosition
	return &cp
}

// SetCurrentPosition stores the open position and persists immediately.
func (s *JSONStorage) SetCurrentPosition(pos *models.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if pos == nil {
		s.data.CurrentPosition = nil
	} else {
		cp := *pos
		s.data.CurrentPosition = &cp
	}
	return s.saveLocked()
}

// ClearPosition empties the position slot and persists immediately.
func (s *JSONStorage) ClearPosition() error {
	return s.SetCurrentPosition(nil)
}

// AppendTrade records an audit event and persists immediately.
func (s *JSONStorage) AppendTrade(event models.TradeEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data.Trades = append(s.data.Trades, event)
	return s.saveLocked()
}

// Trades returns a copy of the trade history.
func (s *JSONStorage) Trades() []models.TradeEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.TradeEvent, len(s.data.Trades))
	copy(out, s.data.Trades)
	return out
}

// ActiveCredential returns the stored broker session if one is active.
func (s *JSONStorage) ActiveCredential() (*Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.data.Credential == nil || !s.data.Credential.Active {
		return nil, ErrNotFound
	}
	cp := *s.data.Credential
	return &cp, nil
}

// SetCredential stores the broker session and persists immediately.
func (s *JSONStorage) SetCredential(cred Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data.Credential = &cred
	return s.saveLocked()
}
