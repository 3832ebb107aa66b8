package model

import "time"

// 未匹配原因
const (
	ReasonNoCloseMatch        = "no_close_match"
	ReasonDatabaseUnavailable = "database_unavailable"
	ReasonRectifyFailed       = "rectification_failed"
	ReasonFingerprintFailed   = "fingerprint_failed"
)

// 匹配方式
const (
	MethodFingerprint = "fingerprint"
	MethodName        = "name"
)

// EnrichmentUnavailable 已匹配但实时目录查询失败
const EnrichmentUnavailable = "unavailable"

// Prices 目录报价，字符串原样保留
type Prices struct {
	USD     *string `json:"usd,omitempty"`
	USDFoil *string `json:"usd_foil,omitempty"`
	EUR     *string `json:"eur,omitempty"`
	Tix     *string `json:"tix,omitempty"`
}

// CardResult 单个检测区域的识别结果
type CardResult struct {
	CardNumber      int          `json:"card_number"` // 从1开始，等于检测顺序
	Matched         bool         `json:"matched"`
	Confidence      int          `json:"confidence"`
	Distance        *int         `json:"distance,omitempty"`
	MatchMethod     string       `json:"match_method,omitempty"`
	Name            string       `json:"name,omitempty"`
	Set             string       `json:"set,omitempty"`
	SetCode         string       `json:"set_code,omitempty"`
	CollectorNumber string       `json:"collector_number,omitempty"`
	Rarity          string       `json:"rarity,omitempty"`
	ImageURL        string       `json:"image_url,omitempty"`
	CatalogID       string       `json:"catalog_id,omitempty"`
	CatalogURI      string       `json:"catalog_uri,omitempty"`
	Prices          *Prices      `json:"prices,omitempty"`
	Enrichment      string       `json:"enrichment,omitempty"`
	Reason          string       `json:"reason,omitempty"`
	Corners         [][2]float64 `json:"corners,omitempty"`
}

// ScanResult 一次扫描的聚合结果，len(Cards) == CardsFound
type ScanResult struct {
	Success      bool         `json:"success"`
	Mode         string       `json:"mode"`
	MD5          string       `json:"md5,omitempty"`
	Width        int          `json:"width"`
	Height       int          `json:"height"`
	CardsFound   int          `json:"cards_found"`
	CardsMatched int          `json:"cards_matched"`
	Cards        []CardResult `json:"cards"`
	Cached       bool         `json:"cached,omitempty"`
	Error        string       `json:"error,omitempty"`
	Timestamp    int64        `json:"timestamp"`
}

// CardSummary 参考库中的一条记录
type CardSummary struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	SetCode         string `json:"set_code,omitempty"`
	SetName         string `json:"set_name,omitempty"`
	CollectorNumber string `json:"collector_number,omitempty"`
	Rarity          string `json:"rarity,omitempty"`
}

// SearchResponse 名称查询响应
type SearchResponse struct {
	Success bool          `json:"success"`
	Query   string        `json:"query"`
	Source  string        `json:"source"` // index 或 catalog
	Cards   []CardSummary `json:"cards"`
}

// HealthResponse 健康检查
type HealthResponse struct {
	Status          string     `json:"status"`
	DatabaseLoaded  bool       `json:"database_loaded"`
	CardsInDatabase int        `json:"cards_in_database"`
	HashBits        int        `json:"hash_bits,omitempty"`
	LoadedAt        *time.Time `json:"loaded_at,omitempty"`
	Version         string     `json:"version"`
}

// ErrorResponse 错误响应
type ErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}
