package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/TIANLI0/CardKit/catalog"
	"github.com/TIANLI0/CardKit/index"
	"github.com/TIANLI0/CardKit/model"
	"github.com/TIANLI0/CardKit/utils"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const maxSearchResults = 50

const (
	sourceIndex   = "index"
	sourceCatalog = "catalog"
)

// CatalogSearcher 参考库查不到时按精确名称查询目录
type CatalogSearcher interface {
	SearchExact(ctx context.Context, name string) ([]catalog.Card, error)
}

// IndexHandler 参考库的只读查询与健康检查
type IndexHandler struct {
	store       *index.Store
	searcher    CatalogSearcher
	statsSample int
	version     string
}

// NewIndexHandler searcher可以为nil，此时名称查询只用本地参考库
func NewIndexHandler(store *index.Store, searcher CatalogSearcher, statsSample int, version string) *IndexHandler {
	return &IndexHandler{
		store:       store,
		searcher:    searcher,
		statsSample: statsSample,
		version:     version,
	}
}

func unavailable(c *gin.Context) {
	c.JSON(http.StatusServiceUnavailable, model.ErrorResponse{
		Success: false,
		Message: "卡牌数据库未加载",
		Error:   index.ErrUnavailable.Error(),
	})
}

func summaryOf(r index.Record) model.CardSummary {
	return model.CardSummary{
		ID:              r.ID,
		Name:            r.Name,
		SetCode:         r.SetCode,
		SetName:         r.SetName,
		CollectorNumber: r.CollectorNumber,
		Rarity:          r.Rarity,
	}
}

// Health 报告参考库是否已加载
func (h *IndexHandler) Health(c *gin.Context) {
	resp := model.HealthResponse{
		Status:  "degraded",
		Version: h.version,
	}
	if idx := h.store.Current(); idx != nil {
		loadedAt := idx.LoadedAt()
		resp.Status = "ok"
		resp.DatabaseLoaded = true
		resp.CardsInDatabase = idx.Len()
		resp.HashBits = idx.HashBits()
		resp.LoadedAt = &loadedAt
	}
	c.JSON(http.StatusOK, resp)
}

// Stats 参考库统计，未加载时返回503
func (h *IndexHandler) Stats(c *gin.Context) {
	idx := h.store.Current()
	if idx == nil {
		unavailable(c)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"stats":   idx.Stats(h.statsSample),
	})
}

// Search 按名称查询参考库，本地无结果或未加载时退回目录精确查询
func (h *IndexHandler) Search(c *gin.Context) {
	name := c.Query("name")
	if name == "" {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: "name参数缺失",
		})
		return
	}

	resp := model.SearchResponse{
		Success: true,
		Query:   name,
		Source:  sourceIndex,
		Cards:   []model.CardSummary{},
	}
	idx := h.store.Current()
	if idx != nil {
		for _, r := range idx.FindByName(name, maxSearchResults) {
			resp.Cards = append(resp.Cards, summaryOf(r))
		}
		if len(resp.Cards) > 0 || h.searcher == nil {
			c.JSON(http.StatusOK, resp)
			return
		}
	} else if h.searcher == nil {
		unavailable(c)
		return
	}

	ctx := c.Request.Context()
	cards, err := h.searcher.SearchExact(ctx, name)
	switch {
	case err == nil, errors.Is(err, catalog.ErrNotFound):
	case idx != nil:
		// 目录故障时仍返回本地的空结果
		utils.L(ctx).Warn("catalog search failed", zap.String("name", name), zap.Error(err))
		c.JSON(http.StatusOK, resp)
		return
	default:
		utils.L(ctx).Warn("catalog search failed", zap.String("name", name), zap.Error(err))
		unavailable(c)
		return
	}

	resp.Source = sourceCatalog
	for _, card := range cards {
		if len(resp.Cards) == maxSearchResults {
			break
		}
		resp.Cards = append(resp.Cards, model.CardSummary{
			ID:              card.ID,
			Name:            card.Name,
			SetCode:         card.Set,
			SetName:         card.SetName,
			CollectorNumber: card.CollectorNumber,
			Rarity:          card.Rarity,
		})
	}
	c.JSON(http.StatusOK, resp)
}

// Card 按目录ID查询参考库中的单张卡片
func (h *IndexHandler) Card(c *gin.Context) {
	idx := h.store.Current()
	if idx == nil {
		unavailable(c)
		return
	}
	r, ok := idx.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, model.ErrorResponse{
			Success: false,
			Message: "卡片不存在",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"card":    summaryOf(r),
	})
}
