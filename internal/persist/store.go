package persist

import (
	"context"
	"time"
)

// AccountRow / SessionRow / RankingRow are the storage shapes. Legacy fields
// are read at load time by the migration pass and never written back.
type AccountRow struct {
	ID                   string `gorm:"primaryKey"`
	Username             string `gorm:"uniqueIndex"`
	Nickname             string `gorm:"uniqueIndex"`
	PasswordHash         string
	Icon                 string
	LastNicknameChangeAt time.Time
	CreatedAt            time.Time
}

type SessionRow struct {
	Token      string `gorm:"primaryKey"`
	AccountID  string `gorm:"index"`
	ExpiresAt  time.Time
	LastUsedAt time.Time
	// LegacyExpiryUnix is set on rows written by old deployments that stored
	// a bare unix expiry instead of a TTL record.
	LegacyExpiryUnix int64
}

type RankingRow struct {
	ID        uint   `gorm:"primaryKey"`
	Category  string `gorm:"index"`
	AccountID string `gorm:"index"`
	// DisplayName is the legacy key used before scores were keyed by account
	// id. Current rows leave it empty.
	DisplayName string
	Score       int
}

// Snapshot is one full in-memory image of the durable entity sets.
type Snapshot struct {
	Accounts []AccountRow
	Sessions []SessionRow
	Rankings []RankingRow
}

// Store is the durable engine behind the gateway. Save replaces the whole
// image; data volumes here are small and flushes are debounced, so a full
// rewrite is simpler than diffing.
type Store interface {
	Load(ctx context.Context) (*Snapshot, error)
	Save(ctx context.Context, snap *Snapshot) error
	Close() error
}
