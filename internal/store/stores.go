package store

import "io"

// Stores is the top-level container for all storage backends.
// Both standalone (SQLite) and managed (Postgres) mode fill every field.
type Stores struct {
	Conversations ConversationStore
	Messages      MessageStore
	Rules         RuleStore
	Settings      SettingsStore

	// Closer releases the underlying connection pool.
	Closer io.Closer
}

// Close releases the backing database, if any.
func (s *Stores) Close() error {
	if s == nil || s.Closer == nil {
		return nil
	}
	return s.Closer.Close()
}

// StoreConfig selects and configures the backend.
type StoreConfig struct {
	PostgresDSN string
	SQLitePath  string
}
