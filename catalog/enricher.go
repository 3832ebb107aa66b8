package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/TIANLI0/CardKit/metrics"
	"github.com/TIANLI0/CardKit/utils"
	"go.uber.org/zap"
)

// Cache 目录结果缓存，失败只意味着不缓存
type Cache interface {
	GetCard(ctx context.Context, id string) (*Card, bool)
	SetCard(ctx context.Context, id string, card *Card)
}

// Enricher 为已匹配的卡片补充实时元数据。单次调用有超时，失败不影响匹配结果。
type Enricher struct {
	lookup  Lookup
	cache   Cache
	timeout time.Duration
}

// NewEnricher lookup为nil时视为目录已禁用
func NewEnricher(lookup Lookup, cache Cache, timeout time.Duration) *Enricher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Enricher{lookup: lookup, cache: cache, timeout: timeout}
}

// Enrich 按ID查询；目录中没有该ID时按系列代码与收藏编号再查一次。
// 结果以参考库ID为键缓存。
func (e *Enricher) Enrich(ctx context.Context, ref CardRef) (*Card, error) {
	if e == nil || e.lookup == nil {
		metrics.EnrichmentTotal.WithLabelValues("disabled").Inc()
		return nil, ErrDisabled
	}
	if e.cache != nil {
		if card, ok := e.cache.GetCard(ctx, ref.ID); ok {
			metrics.EnrichmentTotal.WithLabelValues("cached").Inc()
			return card, nil
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	card, err := e.lookup.Card(callCtx, ref.ID)
	if errors.Is(err, ErrNotFound) && ref.Set != "" && ref.Number != "" {
		card, err = e.lookup.CardBySetNumber(callCtx, ref.Set, ref.Number)
	}
	if err != nil {
		metrics.EnrichmentTotal.WithLabelValues("unavailable").Inc()
		if !errors.Is(err, context.Canceled) {
			utils.L(ctx).Warn("catalog lookup failed, using local metadata",
				zap.String("card_id", ref.ID),
				zap.Error(err))
		}
		return nil, err
	}

	metrics.EnrichmentTotal.WithLabelValues("live").Inc()
	if e.cache != nil {
		e.cache.SetCard(ctx, ref.ID, card)
	}
	return card, nil
}
