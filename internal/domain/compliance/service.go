package compliance

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/afyalink/careflow/internal/platform/apperr"
	"github.com/afyalink/careflow/internal/platform/telemetry"
	"github.com/afyalink/careflow/internal/platform/writeguard"
)

// AppendRequest describes one privileged action to record.
type AppendRequest struct {
	Action     string
	ActorID    string
	ActorRole  string
	Resource   string
	ResourceID string
	Hospital   string
	Metadata   map[string]any
}

// Service appends to and verifies per-tenant hash chains.
type Service struct {
	repo       Repository
	guard      *writeguard.Guard
	maxRetries int
}

// NewService wires the ledger service. maxRetries bounds the chain-index
// compare-and-swap loop.
func NewService(repo Repository, guard *writeguard.Guard, maxRetries int) *Service {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &Service{repo: repo, guard: guard, maxRetries: maxRetries}
}

// Append adds one entry to the tenant's chain. Chain-index allocation is a
// compare-and-swap loop: read the latest entry, compute the next index and
// prev hash, and attempt the insert under the (tenant_key, chain_index)
// uniqueness constraint. Losing the race re-reads and retries up to the
// configured bound, then fails with Conflict — a transient append failure,
// not corruption.
func (s *Service) Append(ctx context.Context, req AppendRequest) (*Entry, error) {
	tenantKey := TenantKeyFor(req.Hospital)

	var lastErr error
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		latest, err := s.repo.Latest(ctx, tenantKey)
		if err != nil {
			return nil, fmt.Errorf("read chain head for %s: %w", tenantKey, err)
		}

		e := &Entry{
			TenantKey:  tenantKey,
			ChainIndex: 1,
			Action:     req.Action,
			ActorID:    req.ActorID,
			ActorRole:  req.ActorRole,
			Resource:   req.Resource,
			ResourceID: req.ResourceID,
			Hospital:   req.Hospital,
			Metadata:   req.Metadata,
			// Postgres stores microseconds; truncate so a recomputed hash
			// matches the stored one.
			RecordedAt: time.Now().UTC().Truncate(time.Microsecond),
		}
		if latest != nil {
			e.ChainIndex = latest.ChainIndex + 1
			e.PrevHash = latest.EntryHash
		}
		e.EntryHash, err = HashEntry(e)
		if err != nil {
			return nil, err
		}

		err = s.repo.Insert(ctx, s.guard.Mint(tenantKey), e)
		if err == nil {
			return e, nil
		}
		if !apperr.Is(err, apperr.Conflict) {
			return nil, err
		}
		lastErr = err
	}
	return nil, apperr.Wrap(apperr.Conflict, lastErr,
		"chain append for %s lost %d consecutive index races", tenantKey, s.maxRetries)
}

// VerifyChain replays the tenant's chain, recomputing every hash and
// checking index continuity and prev-hash links. Any mismatch is reported
// with the offending chain index.
func (s *Service) VerifyChain(ctx context.Context, tenantKey string) (*VerifyReport, error) {
	entries, err := s.repo.ListChain(ctx, tenantKey)
	if err != nil {
		return nil, err
	}

	report := &VerifyReport{TenantKey: tenantKey, Entries: len(entries), Valid: true}
	prevHash := ""
	for i, e := range entries {
		wantIndex := int64(i + 1)
		if e.ChainIndex != wantIndex {
			return broken(report, e.ChainIndex,
				fmt.Sprintf("chain index gap: expected %d, got %d", wantIndex, e.ChainIndex)), nil
		}
		if e.PrevHash != prevHash {
			return broken(report, e.ChainIndex,
				fmt.Sprintf("prev hash mismatch at index %d", e.ChainIndex)), nil
		}
		recomputed, err := HashEntry(e)
		if err != nil {
			return nil, err
		}
		if recomputed != e.EntryHash {
			return broken(report, e.ChainIndex,
				fmt.Sprintf("entry hash mismatch at index %d", e.ChainIndex)), nil
		}
		prevHash = e.EntryHash
	}
	return report, nil
}

func broken(r *VerifyReport, at int64, reason string) *VerifyReport {
	r.Valid = false
	r.BrokenAt = at
	r.Reason = reason
	return r
}

// List pages a tenant's entries, newest first.
func (s *Service) List(ctx context.Context, tenantKey string, limit, offset int) ([]*Entry, int, error) {
	return s.repo.List(ctx, tenantKey, limit, offset)
}

// Recorder is the best-effort sink the rest of the core writes through.
// Append failures are logged and counted but never propagate: the ledger
// must not downgrade the success of the primary business action. This is a
// deliberate availability-over-auditability trade-off.
type Recorder struct {
	svc      *Service
	log      zerolog.Logger
	failures *telemetry.Counter
}

// NewRecorder wires the sink with its failure counter.
func NewRecorder(svc *Service, log zerolog.Logger, metrics *telemetry.Registry) *Recorder {
	return &Recorder{
		svc: svc,
		log: log,
		failures: metrics.Counter("compliance_ledger_append_failures",
			"Number of compliance ledger appends that failed and were dropped."),
	}
}

// Record appends best-effort. It never returns an error.
func (r *Recorder) Record(ctx context.Context, req AppendRequest) {
	if _, err := r.svc.Append(ctx, req); err != nil {
		r.failures.Inc()
		r.log.Error().Err(err).
			Str("action", req.Action).
			Str("tenant_key", TenantKeyFor(req.Hospital)).
			Str("resource", req.Resource).
			Msg("compliance ledger append failed")
	}
}
