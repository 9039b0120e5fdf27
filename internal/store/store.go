package store

import (
	"fmt"
	"io"

	"github.com/soyeahso/polyground/internal/logging"
)

// Drivers accepted by OpenConversations.
const (
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

// OpenConversations opens the configured conversation store. The closer
// releases the database, if any.
func OpenConversations(driver, path string, log *logging.Logger) (ConversationStore, io.Closer, error) {
	switch driver {
	case "", DriverSQLite:
		db, err := Open(path, log)
		if err != nil {
			return nil, nil, err
		}
		return NewSQLiteConversationStore(db), db, nil
	case DriverMemory:
		return NewMemoryConversationStore(), nopCloser{}, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", driver)
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
