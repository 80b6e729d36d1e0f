package compliance

import (
	"testing"
	"time"
)

func TestTenantKeyFor(t *testing.T) {
	if got := TenantKeyFor("abc"); got != "hospital:abc" {
		t.Fatalf("TenantKeyFor(abc) = %s", got)
	}
	if got := TenantKeyFor(""); got != GlobalTenantKey {
		t.Fatalf("TenantKeyFor(\"\") = %s", got)
	}
}

func TestHashEntryIsReproducible(t *testing.T) {
	e := &Entry{
		TenantKey:  "hospital:h1",
		ChainIndex: 3,
		PrevHash:   "abc123",
		Action:     "MEDICATION_DISPENSED",
		ActorID:    "ph-1",
		ActorRole:  "pharmacist",
		Resource:   "Prescription",
		ResourceID: "rx-1",
		Hospital:   "h1",
		Metadata:   map[string]any{"encounterId": "enc-1"},
		RecordedAt: time.Date(2026, 8, 28, 10, 30, 0, 123456000, time.UTC),
	}
	h1, err := HashEntry(e)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := HashEntry(e)
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Fatal("hashing the same entry twice must match")
	}
	if len(h1) != 64 {
		t.Fatalf("hash length = %d, want 64", len(h1))
	}
}

func TestHashEntryCoversChainFields(t *testing.T) {
	base := Entry{
		TenantKey:  "hospital:h1",
		ChainIndex: 1,
		Action:     "A",
		RecordedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
	h0, _ := HashEntry(&base)

	mutated := base
	mutated.ChainIndex = 2
	if h, _ := HashEntry(&mutated); h == h0 {
		t.Error("chain index must affect the hash")
	}

	mutated = base
	mutated.PrevHash = "ff"
	if h, _ := HashEntry(&mutated); h == h0 {
		t.Error("prev hash must affect the hash")
	}

	mutated = base
	mutated.Action = "B"
	if h, _ := HashEntry(&mutated); h == h0 {
		t.Error("action must affect the hash")
	}
}

func TestHashEntryTreatsNilMetadataAsEmpty(t *testing.T) {
	withNil := Entry{TenantKey: "global", ChainIndex: 1, RecordedAt: time.Now().UTC()}
	withEmpty := withNil
	withEmpty.Metadata = map[string]any{}

	h1, _ := HashEntry(&withNil)
	h2, _ := HashEntry(&withEmpty)
	if h1 != h2 {
		t.Fatal("nil and empty metadata must hash identically")
	}
}
