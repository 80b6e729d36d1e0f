package compliance

import (
	"context"
	"sort"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/afyalink/careflow/internal/platform/apperr"
	"github.com/afyalink/careflow/internal/platform/telemetry"
	"github.com/afyalink/careflow/internal/platform/writeguard"
)

type memRepo struct {
	mu      sync.Mutex
	entries map[string][]*Entry // tenantKey -> chain order
	// failInserts makes the next n Insert calls fail with an internal error.
	failInserts int
	// conflictInserts makes the next n Insert calls fail with Conflict, as
	// if another writer kept winning the chain-index race.
	conflictInserts int
}

func newMemRepo() *memRepo {
	return &memRepo{entries: map[string][]*Entry{}}
}

func (m *memRepo) Insert(_ context.Context, tok writeguard.Token, e *Entry) error {
	if err := writeguard.Check(tok, "ComplianceLedgerEntry"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failInserts > 0 {
		m.failInserts--
		return apperr.New(apperr.Internal, "insert failed")
	}
	if m.conflictInserts > 0 {
		m.conflictInserts--
		return apperr.New(apperr.Conflict, "chain index %d already taken for %s", e.ChainIndex, e.TenantKey)
	}
	chain := m.entries[e.TenantKey]
	for _, existing := range chain {
		if existing.ChainIndex == e.ChainIndex {
			return apperr.New(apperr.Conflict, "chain index %d already taken for %s", e.ChainIndex, e.TenantKey)
		}
	}
	cp := *e
	m.entries[e.TenantKey] = append(chain, &cp)
	return nil
}

func (m *memRepo) Latest(_ context.Context, tenantKey string) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	chain := m.entries[tenantKey]
	if len(chain) == 0 {
		return nil, nil
	}
	var latest *Entry
	for _, e := range chain {
		if latest == nil || e.ChainIndex > latest.ChainIndex {
			latest = e
		}
	}
	cp := *latest
	return &cp, nil
}

func (m *memRepo) ListChain(_ context.Context, tenantKey string) ([]*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Entry, 0, len(m.entries[tenantKey]))
	for _, e := range m.entries[tenantKey] {
		cp := *e
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChainIndex < out[j].ChainIndex })
	return out, nil
}

func (m *memRepo) List(_ context.Context, tenantKey string, limit, offset int) ([]*Entry, int, error) {
	chain, _ := m.ListChain(context.Background(), tenantKey)
	total := len(chain)
	sort.Slice(chain, func(i, j int) bool { return chain[i].ChainIndex > chain[j].ChainIndex })
	if offset >= len(chain) {
		return nil, total, nil
	}
	chain = chain[offset:]
	if limit < len(chain) {
		chain = chain[:limit]
	}
	return chain, total, nil
}

func newTestService(repo *memRepo, maxRetries int) *Service {
	return NewService(repo, writeguard.New(), maxRetries)
}

func req(action, hospital string) AppendRequest {
	return AppendRequest{
		Action:     action,
		ActorID:    "dr-1",
		ActorRole:  "doctor",
		Resource:   "Encounter",
		ResourceID: "enc-1",
		Hospital:   hospital,
	}
}

func TestAppendChainsEntries(t *testing.T) {
	svc := newTestService(newMemRepo(), 5)

	e1, err := svc.Append(context.Background(), req("ENCOUNTER_STARTED", "h1"))
	if err != nil {
		t.Fatal(err)
	}
	if e1.ChainIndex != 1 || e1.PrevHash != "" {
		t.Fatalf("first entry: index=%d prev=%q", e1.ChainIndex, e1.PrevHash)
	}
	if e1.TenantKey != "hospital:h1" {
		t.Fatalf("tenant key = %s", e1.TenantKey)
	}

	e2, err := svc.Append(context.Background(), req("DIAGNOSIS_CREATED", "h1"))
	if err != nil {
		t.Fatal(err)
	}
	if e2.ChainIndex != 2 || e2.PrevHash != e1.EntryHash {
		t.Fatalf("second entry: index=%d prev=%q want prev=%q", e2.ChainIndex, e2.PrevHash, e1.EntryHash)
	}
}

func TestGlobalChainForEmptyHospital(t *testing.T) {
	svc := newTestService(newMemRepo(), 5)
	e, err := svc.Append(context.Background(), req("TENANT_CREATED", ""))
	if err != nil {
		t.Fatal(err)
	}
	if e.TenantKey != GlobalTenantKey {
		t.Fatalf("tenant key = %s, want %s", e.TenantKey, GlobalTenantKey)
	}
}

func TestChainsAreIsolatedPerTenant(t *testing.T) {
	svc := newTestService(newMemRepo(), 5)
	for range [3]struct{}{} {
		if _, err := svc.Append(context.Background(), req("A", "h1")); err != nil {
			t.Fatal(err)
		}
	}
	e, err := svc.Append(context.Background(), req("B", "h2"))
	if err != nil {
		t.Fatal(err)
	}
	if e.ChainIndex != 1 {
		t.Fatalf("h2 chain must start at 1, got %d", e.ChainIndex)
	}
}

func TestVerifyChainDetectsTampering(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, 5)
	for _, action := range []string{"A", "B", "C"} {
		if _, err := svc.Append(context.Background(), req(action, "h1")); err != nil {
			t.Fatal(err)
		}
	}

	report, err := svc.VerifyChain(context.Background(), "hospital:h1")
	if err != nil {
		t.Fatal(err)
	}
	if !report.Valid || report.Entries != 3 {
		t.Fatalf("clean chain must verify: %+v", report)
	}

	// Mutate the middle entry's action in place.
	repo.mu.Lock()
	repo.entries["hospital:h1"][1].Action = "FORGED"
	repo.mu.Unlock()

	report, err = svc.VerifyChain(context.Background(), "hospital:h1")
	if err != nil {
		t.Fatal(err)
	}
	if report.Valid {
		t.Fatal("tampered chain must not verify")
	}
	if report.BrokenAt != 2 {
		t.Fatalf("BrokenAt = %d, want 2", report.BrokenAt)
	}
}

func TestVerifyChainDetectsIndexGap(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, 5)
	for _, action := range []string{"A", "B", "C"} {
		if _, err := svc.Append(context.Background(), req(action, "h1")); err != nil {
			t.Fatal(err)
		}
	}
	repo.mu.Lock()
	repo.entries["hospital:h1"] = append(repo.entries["hospital:h1"][:1], repo.entries["hospital:h1"][2:]...)
	repo.mu.Unlock()

	report, err := svc.VerifyChain(context.Background(), "hospital:h1")
	if err != nil {
		t.Fatal(err)
	}
	if report.Valid {
		t.Fatal("chain with a removed entry must not verify")
	}
}

// Concurrent appends race for the same chain index; the CAS loop must give
// every append a distinct consecutive index.
func TestConcurrentAppendsGetConsecutiveIndexes(t *testing.T) {
	const n = 8
	svc := newTestService(newMemRepo(), 2*n)

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Append(context.Background(), req("CONCURRENT", "h1"))
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	report, err := svc.VerifyChain(context.Background(), "hospital:h1")
	if err != nil {
		t.Fatal(err)
	}
	if !report.Valid || report.Entries != n {
		t.Fatalf("chain after concurrent appends: %+v", report)
	}
}

func TestAppendGivesUpAfterRetryBound(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, 3)

	// Every insert loses the index race.
	repo.conflictInserts = 10

	_, err := svc.Append(context.Background(), req("LOSER", "h1"))
	if !apperr.Is(err, apperr.Conflict) {
		t.Fatalf("append past the retry bound = %v, want Conflict", err)
	}
	if repo.conflictInserts != 7 {
		t.Fatalf("expected exactly 3 attempts, %d conflicts left", repo.conflictInserts)
	}
}

func TestRecorderSwallowsFailures(t *testing.T) {
	repo := newMemRepo()
	repo.failInserts = 1
	svc := newTestService(repo, 5)
	metrics := telemetry.NewRegistry()
	rec := NewRecorder(svc, zerolog.Nop(), metrics)

	rec.Record(context.Background(), req("WILL_FAIL", "h1"))
	if got := metrics.Counter("compliance_ledger_append_failures", "").Value(); got != 1 {
		t.Fatalf("failure counter = %d, want 1", got)
	}

	// Next append succeeds and the chain stays clean.
	rec.Record(context.Background(), req("WILL_PASS", "h1"))
	report, err := svc.VerifyChain(context.Background(), "hospital:h1")
	if err != nil {
		t.Fatal(err)
	}
	if !report.Valid || report.Entries != 1 {
		t.Fatalf("chain after recorder failure: %+v", report)
	}
}
