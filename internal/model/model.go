package model

import (
	"time"
)

// CredentialID is the primary key of the only administrator row.
const CredentialID = 1

// Credential is the single administrator account. The bcrypt hash embeds its
// own salt and cost.
type Credential struct {
	ID           uint      `gorm:"primaryKey;autoIncrement:false" json:"-"`
	Username     string    `gorm:"not null;size:64" json:"username"`
	PasswordHash string    `gorm:"not null" json:"-"` // never exposed in JSON
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// CategoryUsage is the count and size of one disk usage category.
type CategoryUsage struct {
	Count int   `json:"count"`
	Size  int64 `json:"size"`
}

// UsageSnapshot summarises engine disk usage at a point in time.
type UsageSnapshot struct {
	TotalSize      int64         `json:"total_size"`
	TotalSizeHuman string        `json:"total_size_human"`
	Images         CategoryUsage `json:"images"`
	Containers     CategoryUsage `json:"containers"`
	Volumes        CategoryUsage `json:"volumes"`
	BuildCache     CategoryUsage `json:"build_cache"`
}

// PruneResult reports one prune step of a cleanup.
type PruneResult struct {
	Deleted        []string `json:"deleted"`
	SpaceReclaimed uint64   `json:"space_reclaimed"`
}

// CleanupResult is returned by a cleanup run. It is not persisted.
type CleanupResult struct {
	Before         UsageSnapshot          `json:"before"`
	After          UsageSnapshot          `json:"after"`
	ReclaimedBytes int64                  `json:"reclaimed_bytes"`
	Results        map[string]PruneResult `json:"results"`
}

// AuditLog records one mutating operation that succeeded.
type AuditLog struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Username  string    `gorm:"size:64;index" json:"username"`
	Action    string    `gorm:"size:64;index" json:"action"`
	Target    string    `gorm:"size:32" json:"target"`
	TargetID  string    `gorm:"size:255" json:"target_id"`
	IP        string    `gorm:"size:64" json:"ip"`
	Status    int       `json:"status"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}
