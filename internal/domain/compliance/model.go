package compliance

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/afyalink/careflow/internal/platform/canonical"
)

// GlobalTenantKey is the chain for actions not scoped to a hospital.
const GlobalTenantKey = "global"

// TenantKeyFor derives the chain key for a hospital identifier.
func TenantKeyFor(hospital string) string {
	if hospital == "" {
		return GlobalTenantKey
	}
	return fmt.Sprintf("hospital:%s", hospital)
}

// Entry is one hash-chained row of the compliance ledger. Entries are
// append-only: the repository exposes no update or delete, and the
// database enforces the same with row triggers.
type Entry struct {
	ID         uuid.UUID      `db:"id" json:"id"`
	TenantKey  string         `db:"tenant_key" json:"tenant_key"`
	ChainIndex int64          `db:"chain_index" json:"chain_index"`
	PrevHash   string         `db:"prev_hash" json:"prev_hash"`
	EntryHash  string         `db:"entry_hash" json:"entry_hash"`
	Action     string         `db:"action" json:"action"`
	ActorID    string         `db:"actor_id" json:"actor_id"`
	ActorRole  string         `db:"actor_role" json:"actor_role"`
	Resource   string         `db:"resource" json:"resource"`
	ResourceID string         `db:"resource_id" json:"resource_id"`
	Hospital   string         `db:"hospital" json:"hospital"`
	Metadata   map[string]any `db:"metadata" json:"metadata"`
	RecordedAt time.Time      `db:"recorded_at" json:"recorded_at"`
}

// hashPayload is the canonical serialization the entry hash is computed
// over. Field names match the stored columns; jcs sorts the keys.
type hashPayload struct {
	TenantKey  string         `json:"tenantKey"`
	ChainIndex int64          `json:"chainIndex"`
	PrevHash   string         `json:"prevHash"`
	Action     string         `json:"action"`
	ActorID    string         `json:"actorId"`
	ActorRole  string         `json:"actorRole"`
	Resource   string         `json:"resource"`
	ResourceID string         `json:"resourceId"`
	Hospital   string         `json:"hospital"`
	Metadata   map[string]any `json:"metadata"`
	TS         string         `json:"ts"`
}

// HashEntry computes the digest of an entry from its own fields. Replaying
// this over a chain must reproduce every stored EntryHash.
func HashEntry(e *Entry) (string, error) {
	meta := e.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	return canonical.HashHex(hashPayload{
		TenantKey:  e.TenantKey,
		ChainIndex: e.ChainIndex,
		PrevHash:   e.PrevHash,
		Action:     e.Action,
		ActorID:    e.ActorID,
		ActorRole:  e.ActorRole,
		Resource:   e.Resource,
		ResourceID: e.ResourceID,
		Hospital:   e.Hospital,
		Metadata:   meta,
		TS:         e.RecordedAt.UTC().Format(time.RFC3339Nano),
	})
}

// VerifyReport is the outcome of replaying a tenant's chain.
type VerifyReport struct {
	TenantKey string `json:"tenant_key"`
	Entries   int    `json:"entries"`
	Valid     bool   `json:"valid"`
	// BrokenAt is the chain index of the first offending entry when the
	// chain does not verify.
	BrokenAt int64  `json:"broken_at,omitempty"`
	Reason   string `json:"reason,omitempty"`
}
