// Package storage provides persistence for daily level sets, the single
// open position slot, trade history and the broker credential.
package storage

import (
	"time"

	"github.com/arjunvm/pivot_sentry/internal/models"
)

// Credential is the active broker session used for data fetches and orders.
type Credential struct {
	AccessToken string    `json:"access_token"`
	TokenDate   time.Time `json:"token_date"`
	Active      bool      `json:"active"`
}

// Interface defines the contract for level, position and trade persistence.
//
// Implementations must be safe for concurrent use - callers can assume all
// methods are goroutine-safe. The provided JSONStorage implementation uses
// sync.RWMutex to serialize access.
type Interface interface {
	// Daily level sets, keyed by the trading day (midnight, exchange zone).
	LevelSet(forDay time.Time) (*models.LevelSet, error)
	SaveLevelSet(levels *models.LevelSet) error

	// Single open position slot.
	CurrentPosition() *models.Position
	SetCurrentPosition(pos *models.Position) error
	ClearPosition() error

	// Trade audit history.
	AppendTrade(event models.TradeEvent) error
	Trades() []models.TradeEvent

	// Broker credential.
	ActiveCredential() (*Credential, error)
	SetCredential(cred Credential) error

	// Data persistence
	Save() error
	Load() error
}

// NewStorage creates a new storage implementation (currently JSON-based).
func NewStorage(filepath string) (Interface, error) {
	return NewJSONStorage(filepath)
}

// Ensure JSONStorage implements Interface
var _ Interface = (*JSONStorage)(nil)
