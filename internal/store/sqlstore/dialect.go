// Package sqlstore implements the store interfaces on database/sql.
// The same queries serve Postgres (managed mode) and SQLite (standalone
// mode); they are written with ? placeholders and rebound per dialect.
package sqlstore

import (
	"database/sql"
	"strconv"
	"strings"

	"github.com/nextlevelbuilder/asa/internal/store"
)

// Dialect selects placeholder style and a few dialect-specific clauses.
type Dialect int

const (
	Postgres Dialect = iota
	SQLite
)

func (d Dialect) String() string {
	if d == Postgres {
		return "postgres"
	}
	return "sqlite"
}

// rebind rewrites ? placeholders to $1..$n for Postgres.
func (d Dialect) rebind(q string) string {
	if d != Postgres {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(q[i])
	}
	return b.String()
}

// New wires every store onto one connection pool.
func New(db *sql.DB, d Dialect) *store.Stores {
	return &store.Stores{
		Conversations: &ConversationStore{db: db, d: d},
		Messages:      &MessageStore{db: db, d: d},
		Rules:         &RuleStore{db: db, d: d},
		Settings:      &SettingsStore{db: db, d: d},
		Closer:        db,
	}
}
