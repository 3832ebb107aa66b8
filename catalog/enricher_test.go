package catalog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/TIANLI0/CardKit/utils"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type stubLookup struct {
	card    *Card
	err     error
	delay   time.Duration
	calls   int
	bySet   map[string]*Card
	setHits int
}

func (s *stubLookup) Card(ctx context.Context, id string) (*Card, error) {
	s.calls++
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.card, s.err
}

func (s *stubLookup) CardBySetNumber(_ context.Context, set, number string) (*Card, error) {
	s.setHits++
	if c, ok := s.bySet[set+"/"+number]; ok {
		return c, nil
	}
	return nil, ErrNotFound
}

type mapCache map[string]*Card

func (m mapCache) GetCard(_ context.Context, id string) (*Card, bool) {
	c, ok := m[id]
	return c, ok
}

func (m mapCache) SetCard(_ context.Context, id string, card *Card) { m[id] = card }

func TestEnrichUsesCache(t *testing.T) {
	lookup := &stubLookup{card: &Card{ID: "x1", Name: "Shock"}}
	cache := mapCache{}
	e := NewEnricher(lookup, cache, time.Second)

	for i := 0; i < 2; i++ {
		card, err := e.Enrich(context.Background(), CardRef{ID: "x1"})
		if err != nil || card.Name != "Shock" {
			t.Fatalf("unexpected result %+v %v", card, err)
		}
	}
	if lookup.calls != 1 {
		t.Fatalf("second call should be served from cache, got %d lookups", lookup.calls)
	}
}

func TestEnrichFallsBackToSetNumber(t *testing.T) {
	reprint := &Card{ID: "new-id", Name: "Lightning Bolt", Set: "lea", CollectorNumber: "161"}
	lookup := &stubLookup{err: ErrNotFound, bySet: map[string]*Card{"lea/161": reprint}}
	cache := mapCache{}
	e := NewEnricher(lookup, cache, time.Second)

	card, err := e.Enrich(context.Background(), CardRef{ID: "old-id", Set: "lea", Number: "161"})
	if err != nil || card != reprint {
		t.Fatalf("expected set/number fallback, got %+v %v", card, err)
	}
	if lookup.setHits != 1 {
		t.Fatalf("set/number lookup calls = %d", lookup.setHits)
	}
	if cache["old-id"] != reprint {
		t.Fatal("result should be cached under the reference id")
	}

	// 缺少系列信息时不做二次查询
	lookup.setHits = 0
	if _, err := e.Enrich(context.Background(), CardRef{ID: "other"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if lookup.setHits != 0 {
		t.Fatal("fallback must need both set and number")
	}
}

func TestEnrichNoFallbackOnOtherErrors(t *testing.T) {
	lookup := &stubLookup{err: &StatusError{Code: 503}, bySet: map[string]*Card{"lea/161": {ID: "x"}}}
	e := NewEnricher(lookup, nil, time.Second)
	if _, err := e.Enrich(context.Background(), CardRef{ID: "x", Set: "lea", Number: "161"}); err == nil {
		t.Fatal("expected the status error")
	}
	if lookup.setHits != 0 {
		t.Fatal("only a missing id should trigger the set/number lookup")
	}
}

func TestEnrichTimeout(t *testing.T) {
	lookup := &stubLookup{card: &Card{ID: "x1"}, delay: time.Second}
	e := NewEnricher(lookup, nil, 20*time.Millisecond)
	start := time.Now()
	if _, err := e.Enrich(context.Background(), CardRef{ID: "x1"}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatal("enrichment did not honour its timeout")
	}
}

func TestEnrichDisabled(t *testing.T) {
	if _, err := NewEnricher(nil, nil, 0).Enrich(context.Background(), CardRef{ID: "x1"}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("expected ErrDisabled, got %v", err)
	}
}

func TestEnrichLogsFailureInEnglish(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	prev := utils.Logger
	utils.Logger = zap.New(core)
	defer func() { utils.Logger = prev }()

	e := NewEnricher(&stubLookup{err: &StatusError{Code: 503}}, nil, time.Second)
	if _, err := e.Enrich(context.Background(), CardRef{ID: "x1"}); err == nil {
		t.Fatal("expected lookup error")
	}
	entries := logs.FilterMessage("catalog lookup failed, using local metadata").All()
	if len(entries) != 1 {
		t.Fatalf("expected one warning, got %+v", logs.All())
	}
	if entries[0].ContextMap()["card_id"] != "x1" {
		t.Fatalf("missing card_id field: %+v", entries[0].ContextMap())
	}
}
