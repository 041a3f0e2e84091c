package store

// Stores is the top-level container for all storage backends.
// Managed mode backs it with Postgres; standalone mode with SQLite.
type Stores struct {
	Channels ChannelStore
}

// StoreConfig carries backend selection for store factories.
type StoreConfig struct {
	PostgresDSN string // managed mode; empty = standalone
	SQLitePath  string // standalone mode; ":memory:" allowed
}
