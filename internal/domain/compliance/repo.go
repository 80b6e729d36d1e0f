package compliance

import (
	"context"

	"github.com/afyalink/careflow/internal/platform/writeguard"
)

// Repository persists ledger entries. There is no update or delete on
// purpose: immutability is enforced by the interface, not by runtime
// checks in callers.
type Repository interface {
	// Insert adds a new entry. The table carries UNIQUE
	// (tenant_key, chain_index) and UNIQUE (entry_hash); a Conflict error
	// signals the caller lost the chain-index race and should retry.
	Insert(ctx context.Context, tok writeguard.Token, e *Entry) error
	// Latest returns the highest-index entry for the tenant, or nil when
	// the chain is empty.
	Latest(ctx context.Context, tenantKey string) (*Entry, error)
	// ListChain returns all entries for the tenant in chain order.
	ListChain(ctx context.Context, tenantKey string) ([]*Entry, error)
	List(ctx context.Context, tenantKey string, limit, offset int) ([]*Entry, int, error)
}
