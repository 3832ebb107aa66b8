package index

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/TIANLI0/CardKit/config"
	"github.com/TIANLI0/CardKit/fingerprint"
)

func mustHex(t *testing.T, s string) fingerprint.Fingerprint {
	t.Helper()
	fp, err := fingerprint.ParseHex(s)
	if err != nil {
		t.Fatalf("ParseHex(%q): %v", s, err)
	}
	return fp
}

func sampleRecords(t *testing.T) []Record {
	return []Record{
		{ID: "c3", Name: "Lightning Bolt", SetCode: "lea", Rarity: "common", Fingerprint: mustHex(t, "ffff0000")},
		{ID: "a1", Name: "Jötun Grunt", SetCode: "csp", Rarity: "uncommon", Fingerprint: mustHex(t, "0000ffff")},
		{ID: "b2", Name: "Counterspell", SetCode: "lea", Rarity: "uncommon", Fingerprint: mustHex(t, "ffff00ff")},
		{ID: "b1", Name: "Counterspell", SetCode: "mmq", Rarity: "common", Fingerprint: mustHex(t, "00ffff00")},
	}
}

func TestNewSortsAndValidates(t *testing.T) {
	idx, err := New(sampleRecords(t), "test")
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if idx.Len() != 4 || idx.HashBits() != 32 || idx.SetCount() != 3 {
		t.Fatalf("unexpected index shape: len=%d bits=%d sets=%d", idx.Len(), idx.HashBits(), idx.SetCount())
	}
	for i, want := range []string{"a1", "b1", "b2", "c3"} {
		if got := idx.Record(i).ID; got != want {
			t.Fatalf("record %d: got %s, want %s", i, got, want)
		}
	}

	dup := append(sampleRecords(t), Record{ID: "a1", Fingerprint: mustHex(t, "00000000")})
	if _, err := New(dup, "test"); !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("expected ErrDuplicateID, got %v", err)
	}
	mixed := append(sampleRecords(t), Record{ID: "z9", Fingerprint: mustHex(t, "ff")})
	if _, err := New(mixed, "test"); !errors.Is(err, ErrLengthMismatch) {
		t.Fatalf("expected ErrLengthMismatch, got %v", err)
	}
	if _, err := New(nil, "test"); !errors.Is(err, ErrEmpty) {
		t.Fatalf("expected ErrEmpty, got %v", err)
	}
}

func TestMatchExact(t *testing.T) {
	idx, _ := New(sampleRecords(t), "test")
	m := Matcher{MaxDistance: 8, MinConfidence: 10}
	res, err := m.Match(idx, mustHex(t, "ffff00ff"))
	if err != nil {
		t.Fatalf("Match returned error: %v", err)
	}
	if !res.Matched || res.Record.ID != "b2" || res.Distance != 0 || res.Confidence != 100 {
		t.Fatalf("unexpected match: %+v", res)
	}
}

func TestMatchTooFar(t *testing.T) {
	idx, _ := New(sampleRecords(t), "test")
	m := Matcher{MaxDistance: 4, MinConfidence: 10}
	// 与每条记录都相差16位
	res, err := m.Match(idx, mustHex(t, "0f0f0f0f"))
	if err != nil {
		t.Fatalf("Match returned error: %v", err)
	}
	if res.Matched || res.Record.ID != "" || res.Confidence != 0 {
		t.Fatalf("expected unmatched result, got %+v", res)
	}
}

func TestMatchTieBreakIsDeterministic(t *testing.T) {
	// 查询与a1、c3距离都是16，取ID顺序中的第一条
	query := mustHex(t, "00000000")
	recs := []Record{
		{ID: "c3", Fingerprint: mustHex(t, "ffff0000")},
		{ID: "a1", Fingerprint: mustHex(t, "0000ffff")},
	}
	reversed := []Record{recs[1], recs[0]}
	m := Matcher{MaxDistance: 100, MinConfidence: 1}
	for _, rs := range [][]Record{recs, reversed} {
		idx, _ := New(rs, "test")
		for i := 0; i < 3; i++ {
			res, _ := m.Match(idx, query)
			if res.Record.ID != "a1" || res.Distance != 16 || res.Confidence != 84 {
				t.Fatalf("unexpected tie-break result: %+v", res)
			}
		}
	}
}

func TestMatchErrors(t *testing.T) {
	m := Matcher{MaxDistance: 8, MinConfidence: 10}
	if _, err := m.Match(nil, mustHex(t, "00")); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	idx, _ := New(sampleRecords(t), "test")
	if _, err := m.Match(idx, mustHex(t, "0000")); !errors.Is(err, ErrLengthMismatch) {
		t.Fatalf("expected ErrLengthMismatch, got %v", err)
	}
}

func TestConfidenceStrictlyDecreasing(t *testing.T) {
	for _, maxDist := range []int{1, 7, 20, 100} {
		if Confidence(0, maxDist) != 100 {
			t.Fatalf("max=%d: distance 0 should give 100", maxDist)
		}
		prev := 101
		for d := 0; d <= maxDist; d++ {
			c := Confidence(d, maxDist)
			if c >= prev {
				t.Fatalf("max=%d: confidence not strictly decreasing at %d (%d >= %d)", maxDist, d, c, prev)
			}
			prev = c
		}
		if Confidence(maxDist, maxDist) != 0 || Confidence(maxDist+5, maxDist) != 0 {
			t.Fatalf("max=%d: confidence should be 0 at and beyond the maximum", maxDist)
		}
	}
}

func TestLookupName(t *testing.T) {
	idx, _ := New(sampleRecords(t), "test")
	r, ok := idx.LookupName("  JOTUN   grunt ")
	if !ok || r.ID != "a1" {
		t.Fatalf("diacritic-insensitive lookup failed: %+v %v", r, ok)
	}
	r, ok = idx.LookupName("counterspell")
	if !ok || r.ID != "b1" {
		t.Fatalf("expected first record by id, got %+v", r)
	}
	if _, ok := idx.LookupName("Black Lotus"); ok {
		t.Fatal("unexpected hit for unknown name")
	}
	if got := NormalizeName("Jace's  Erasure!"); got != "jaces erasure" {
		t.Fatalf("unexpected normalised name %q", got)
	}
}

func TestStoreSwap(t *testing.T) {
	s := NewStore()
	if s.Current() != nil {
		t.Fatal("new store should be empty")
	}
	if _, err := s.Snapshot(); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}

	path := filepath.Join(t.TempDir(), "cards.json")
	if err := WriteArtifact(path, sampleRecords(t)); err != nil {
		t.Fatalf("WriteArtifact: %v", err)
	}
	loader := &JSONLoader{Path: path}
	first, err := s.Load(context.Background(), loader)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if first.Checksum() == "" || s.Current() != first {
		t.Fatal("snapshot not published")
	}

	if err := WriteArtifact(path, sampleRecords(t)[:2]); err != nil {
		t.Fatalf("WriteArtifact: %v", err)
	}
	second, err := s.Load(context.Background(), loader)
	if err != nil {
		t.Fatalf("reload returned error: %v", err)
	}
	if first.Len() != 4 || second.Len() != 2 || s.Current() != second {
		t.Fatalf("reload should replace without mutating: first=%d second=%d", first.Len(), second.Len())
	}

	// 失败的加载保留旧快照
	if _, err := s.Load(context.Background(), &JSONLoader{Path: filepath.Join(t.TempDir(), "missing.json")}); err == nil {
		t.Fatal("expected error for missing artifact")
	}
	if s.Current() != second {
		t.Fatal("failed load replaced the published snapshot")
	}
}

func TestStoreRejectsHashBitsMismatch(t *testing.T) {
	s := NewStore()
	s.RequireHashBits(32)

	path := filepath.Join(t.TempDir(), "cards.json")
	if err := WriteArtifact(path, sampleRecords(t)); err != nil {
		t.Fatalf("WriteArtifact: %v", err)
	}
	loader := &JSONLoader{Path: path}
	first, err := s.Load(context.Background(), loader)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	wide := []Record{{ID: "w1", Name: "Wide", Fingerprint: mustHex(t, "ffff0000ffff0000")}}
	if err := WriteArtifact(path, wide); err != nil {
		t.Fatalf("WriteArtifact: %v", err)
	}
	if _, err := s.Load(context.Background(), loader); !errors.Is(err, ErrLengthMismatch) {
		t.Fatalf("expected ErrLengthMismatch, got %v", err)
	}
	if s.Current() != first {
		t.Fatal("mismatched database replaced the published snapshot")
	}

	// 取消限制后可以加载
	s.RequireHashBits(0)
	if idx, err := s.Load(context.Background(), loader); err != nil || idx.HashBits() != 64 {
		t.Fatalf("unrestricted load failed: %v", err)
	}
}

func TestVersionChangesWithArtifact(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cards.json")
	if err := WriteArtifact(path, sampleRecords(t)); err != nil {
		t.Fatalf("WriteArtifact: %v", err)
	}
	s := NewStore()
	first, err := s.Load(context.Background(), &JSONLoader{Path: path})
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if err := WriteArtifact(path, sampleRecords(t)[1:]); err != nil {
		t.Fatalf("WriteArtifact: %v", err)
	}
	second, err := s.Load(context.Background(), &JSONLoader{Path: path})
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if first.Version() == "" || first.Version() == second.Version() {
		t.Fatalf("versions should differ: %q %q", first.Version(), second.Version())
	}
}

func TestGet(t *testing.T) {
	idx, err := New(sampleRecords(t), "test")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if r, ok := idx.Get("b2"); !ok || r.Name != "Counterspell" || r.SetCode != "lea" {
		t.Fatalf("Get(b2) = %+v, %v", r, ok)
	}
	if _, ok := idx.Get("zz"); ok {
		t.Fatal("Get should miss unknown ids")
	}
}

func TestSQLiteLoader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cards.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	stmts := []string{
		`CREATE TABLE card_hashes (id TEXT PRIMARY KEY, name TEXT, set_code TEXT, set_name TEXT,
			collector_number TEXT, rarity TEXT, hash TEXT NOT NULL)`,
		`INSERT INTO card_hashes VALUES ('b2', 'Counterspell', 'lea', 'Limited Edition Alpha', '54', 'uncommon', 'ffff00ff')`,
		`INSERT INTO card_hashes VALUES ('a1', 'Jötun Grunt', 'csp', NULL, '8', NULL, '0000ffff')`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			t.Fatalf("exec %q: %v", s, err)
		}
	}
	db.Close()

	loader, err := NewLoader(&config.IndexConfig{Source: "sqlite", Path: path, Table: "card_hashes"})
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}
	store := NewStore()
	idx, err := store.Load(context.Background(), loader)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if idx.Len() != 2 || idx.Source() != "sqlite" {
		t.Fatalf("unexpected index: len=%d source=%s", idx.Len(), idx.Source())
	}
	r, ok := idx.Get("b2")
	if !ok || r.SetName != "Limited Edition Alpha" || r.CollectorNumber != "54" {
		t.Fatalf("unexpected record %+v", r)
	}
	if r, _ := idx.Get("a1"); r.Rarity != "" {
		t.Fatalf("NULL rarity should load as empty, got %q", r.Rarity)
	}
}

func TestNewLoaderRejectsBadTable(t *testing.T) {
	if _, err := NewLoader(&config.IndexConfig{Source: "sqlite", Table: "cards; DROP TABLE x"}); err == nil {
		t.Fatal("expected error for unsafe table name")
	}
	if _, err := NewLoader(&config.IndexConfig{Source: "csv"}); err == nil {
		t.Fatal("expected error for unknown source")
	}
}

func TestStats(t *testing.T) {
	idx, _ := New(sampleRecords(t), "test")
	st := idx.Stats(3)
	// a1=0000ffff b1=00ffff00 b2=ffff00ff: 16, 24, 24
	if st.SampleSize != 3 || st.MinDistance != 16 || st.MaxDistance != 24 {
		t.Fatalf("unexpected stats %+v", st)
	}
	if st.AvgDistance < 21.3 || st.AvgDistance > 21.4 {
		t.Fatalf("unexpected average %f", st.AvgDistance)
	}
	if st := idx.Stats(100); st.SampleSize != 4 {
		t.Fatalf("sample should be capped at index size, got %d", st.SampleSize)
	}
}
