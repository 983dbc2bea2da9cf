// Package badger provides BadgerHold-based storage for Tiller's persisted
// state surfaces: news items and processed markers, holdings and cash,
// snapshots, trade decisions and outcomes, run history, feedback reports.
package badger

import (
	"fmt"
	"os"

	"github.com/timshannon/badgerhold/v4"

	"github.com/bobmcallan/tiller/internal/common"
	"github.com/bobmcallan/tiller/internal/interfaces"
)

// Store wraps a BadgerHold database connection and exposes the typed
// stores over it.
type Store struct {
	db     *badgerhold.Store
	logger *common.Logger

	news      *newsStorage
	portfolio *portfolioStorage
	runs      *runStorage
	feedback  *feedbackStorage
}

// NewStore creates a new BadgerHold store at the given directory path.
func NewStore(logger *common.Logger, path string) (*Store, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create badger directory %s: %w", path, err)
	}

	options := badgerhold.DefaultOptions
	options.Dir = path
	options.ValueDir = path
	options.Logger = nil // Disable default badger logger

	db, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}

	logger.Debug().Str("path", path).Msg("BadgerHold store opened")

	s := &Store{db: db, logger: logger}
	s.news = &newsStorage{store: s, logger: logger}
	s.portfolio = &portfolioStorage{store: s, logger: logger}
	s.runs = &runStorage{store: s, logger: logger}
	s.feedback = &feedbackStorage{store: s, logger: logger}
	return s, nil
}

// DB returns the underlying badgerhold store.
func (s *Store) DB() *badgerhold.Store { return s.db }

// NewsStore returns the news ledger storage.
func (s *Store) NewsStore() interfaces.NewsStore { return s.news }

// PortfolioStore returns the portfolio storage.
func (s *Store) PortfolioStore() interfaces.PortfolioStore { return s.portfolio }

// RunStore returns the run history storage.
func (s *Store) RunStore() interfaces.RunStore { return s.runs }

// FeedbackStore returns the feedback report storage.
func (s *Store) FeedbackStore() interfaces.FeedbackStore { return s.feedback }

// Close closes the BadgerHold database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
