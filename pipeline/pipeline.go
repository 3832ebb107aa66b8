// Package pipeline 编排一次扫描：检测、校正、指纹、匹配、富化，并聚合为ScanResult。
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"
	"sync/atomic"
	"time"

	"github.com/TIANLI0/CardKit/catalog"
	"github.com/TIANLI0/CardKit/config"
	"github.com/TIANLI0/CardKit/fingerprint"
	"github.com/TIANLI0/CardKit/geometry"
	"github.com/TIANLI0/CardKit/index"
	"github.com/TIANLI0/CardKit/metrics"
	"github.com/TIANLI0/CardKit/model"
	"github.com/TIANLI0/CardKit/utils"
	"github.com/disintegration/imaging"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Detector 在原图中寻找候选卡片区域，按扫描顺序返回
type Detector interface {
	Detect(ctx context.Context, img *image.NRGBA, profile config.ScanProfile) ([]geometry.Region, error)
}

// Enricher 查询已匹配卡片的实时元数据
type Enricher interface {
	Enrich(ctx context.Context, ref catalog.CardRef) (*catalog.Card, error)
}

// ResultCache 按图片MD5、模式与参考库版本缓存扫描结果
type ResultCache interface {
	GetScanResult(ctx context.Context, md5, mode, version string) (*model.ScanResult, error)
	SetScanResult(ctx context.Context, md5, mode, version string, result *model.ScanResult) error
}

// TitleReader 识别卡面名称栏
type TitleReader interface {
	ReadTitle(ctx context.Context, card *image.NRGBA) (string, error)
}

type Orchestrator struct {
	cfg       *config.Config
	detector  Detector
	rectifier *geometry.Rectifier
	engine    *fingerprint.Engine
	store     *index.Store
	enricher  Enricher
	cache     ResultCache
	titles    TitleReader

	semaphore    chan struct{}
	queueTimeout time.Duration
	workers      int
}

type Option func(*Orchestrator)

func WithEnricher(e Enricher) Option {
	return func(o *Orchestrator) { o.enricher = e }
}

func WithCache(c ResultCache) Option {
	return func(o *Orchestrator) { o.cache = c }
}

// WithTitleReader 启用名称识别兜底
func WithTitleReader(r TitleReader) Option {
	return func(o *Orchestrator) { o.titles = r }
}

func New(cfg *config.Config, detector Detector, store *index.Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:          cfg,
		detector:     detector,
		rectifier:    geometry.NewRectifier(&cfg.Rectifier),
		engine:       fingerprint.NewEngine(&cfg.Fingerprint),
		store:        store,
		semaphore:    make(chan struct{}, max(1, cfg.Pipeline.MaxConcurrent)),
		queueTimeout: cfg.Pipeline.QueueTimeout,
		workers:      max(1, cfg.Pipeline.Workers),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Engine 查询指纹所用的引擎
func (o *Orchestrator) Engine() *fingerprint.Engine { return o.engine }

// Scan 处理一张上传的图片。参考库未加载时返回完整结果(每张卡database_unavailable)以及ErrIndexUnavailable。
func (o *Orchestrator) Scan(ctx context.Context, data []byte, mode string) (*model.ScanResult, error) {
	mode, profile, err := o.resolveMode(mode)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrInvalidImage)
	}

	// 整个请求使用同一个快照，缓存键也取自它
	snapshot, snapErr := o.store.Snapshot()
	md5 := utils.BytesMD5(data)
	if snapErr == nil {
		if cached := o.cached(ctx, md5, mode, snapshot.Version()); cached != nil {
			metrics.ScansTotal.WithLabelValues(mode, "cached").Inc()
			return cached, nil
		}
	}

	img, format, err := Decode(data)
	if err != nil {
		metrics.ScansTotal.WithLabelValues(mode, "invalid").Inc()
		return nil, err
	}
	utils.L(ctx).Debug("image decoded",
		zap.String("md5", md5),
		zap.String("format", format),
		zap.Int("width", img.Bounds().Dx()),
		zap.Int("height", img.Bounds().Dy()))

	result, cacheable, err := o.run(ctx, img, mode, profile, snapshot)
	if result != nil {
		result.MD5 = md5
	}
	// 目录暂时不可用的结果不缓存，恢复后重新富化
	if err == nil && cacheable && o.cache != nil {
		if cerr := o.cache.SetScanResult(ctx, md5, mode, snapshot.Version(), result); cerr != nil {
			utils.L(ctx).Warn("failed to set cache", zap.Error(cerr))
		}
	}
	return result, err
}

// ScanImage 处理已解码的图片，不经过结果缓存
func (o *Orchestrator) ScanImage(ctx context.Context, img image.Image, mode string) (*model.ScanResult, error) {
	mode, profile, err := o.resolveMode(mode)
	if err != nil {
		return nil, err
	}
	if img == nil || img.Bounds().Empty() {
		return nil, fmt.Errorf("%w: empty image", ErrInvalidImage)
	}
	snapshot, _ := o.store.Snapshot()
	result, _, err := o.run(ctx, imaging.Clone(img), mode, profile, snapshot)
	return result, err
}

func (o *Orchestrator) resolveMode(mode string) (string, config.ScanProfile, error) {
	profile, ok := o.cfg.Profile(mode)
	if !ok {
		return "", profile, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
	mode = strings.ToLower(strings.TrimSpace(mode))
	if mode == "" {
		mode = "default"
	}
	return mode, profile, nil
}

func (o *Orchestrator) cached(ctx context.Context, md5, mode, version string) *model.ScanResult {
	if o.cache == nil {
		return nil
	}
	result, err := o.cache.GetScanResult(ctx, md5, mode, version)
	if err != nil {
		utils.L(ctx).Warn("failed to get cache", zap.Error(err))
		return nil
	}
	if result != nil {
		utils.L(ctx).Info("cache hit", zap.String("md5", md5), zap.String("mode", mode))
		result.Cached = true
	}
	return result
}

// acquire 进程级并发控制，排队超过queueTimeout返回ErrQueueFull
func (o *Orchestrator) acquire(ctx context.Context) (func(), error) {
	waitCtx, cancel := context.WithTimeout(ctx, o.queueTimeout)
	defer cancel()

	select {
	case o.semaphore <- struct{}{}:
		return func() { <-o.semaphore }, nil
	case <-waitCtx.Done():
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		metrics.QueueRejected.Inc()
		return nil, ErrQueueFull
	}
}

// run 返回的bool表示结果是否可以缓存
func (o *Orchestrator) run(ctx context.Context, img *image.NRGBA, mode string, profile config.ScanProfile,
	snapshot *index.Index) (*model.ScanResult, bool, error) {
	// 参考库与指纹引擎位数不一致属于配置错误，不做任何检测
	if snapshot != nil && snapshot.HashBits() != o.engine.Bits() {
		metrics.ScansTotal.WithLabelValues(mode, "error").Inc()
		return nil, false, fmt.Errorf("%w: card database has %d-bit fingerprints, engine produces %d",
			index.ErrLengthMismatch, snapshot.HashBits(), o.engine.Bits())
	}

	release, err := o.acquire(ctx)
	if err != nil {
		metrics.ScansTotal.WithLabelValues(mode, "rejected").Inc()
		return nil, false, err
	}
	defer release()

	if o.cfg.Pipeline.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.Pipeline.RequestTimeout)
		defer cancel()
	}

	startTime := time.Now()
	result, cacheable, err := o.process(ctx, img, mode, profile, snapshot)
	outcome := "ok"
	switch {
	case errors.Is(err, ErrIndexUnavailable):
		outcome = "database_unavailable"
	case err != nil:
		outcome = "error"
	}
	metrics.ScansTotal.WithLabelValues(mode, outcome).Inc()
	metrics.ScanDuration.WithLabelValues(mode).Observe(time.Since(startTime).Seconds())

	if result != nil {
		utils.L(ctx).Info("scan finished",
			zap.String("mode", mode),
			zap.Int("cards_found", result.CardsFound),
			zap.Int("cards_matched", result.CardsMatched),
			zap.Duration("duration", time.Since(startTime)))
	}
	return result, cacheable, err
}

func (o *Orchestrator) process(ctx context.Context, img *image.NRGBA, mode string, profile config.ScanProfile,
	snapshot *index.Index) (*model.ScanResult, bool, error) {
	regions, err := o.detector.Detect(ctx, img, profile)
	if err != nil {
		return nil, false, fmt.Errorf("detect regions: %w", err)
	}
	metrics.RegionsDetected.Add(float64(len(regions)))

	matcher := index.Matcher{MaxDistance: profile.MaxDistance, MinConfidence: profile.MinConfidence}

	cards := make([]model.CardResult, len(regions))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.workers)
	for i, region := range regions {
		g.Go(func() error {
			card, err := o.identify(gctx, img, i, region, snapshot, matcher)
			if err != nil {
				return err
			}
			cards[i] = card
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, false, err
	}

	degraded := o.enrich(ctx, cards)

	result := &model.ScanResult{
		Success:    snapshot != nil,
		Mode:       mode,
		Width:      img.Bounds().Dx(),
		Height:     img.Bounds().Dy(),
		CardsFound: len(regions),
		Cards:      cards,
		Timestamp:  time.Now().Unix(),
	}
	for _, c := range cards {
		if c.Matched {
			result.CardsMatched++
		}
	}
	if snapshot == nil {
		result.Error = ErrIndexUnavailable.Error()
		return result, false, ErrIndexUnavailable
	}
	return result, !degraded, nil
}

// identify 处理单个区域，只写入自己的结果槽位。区域级失败记录为未匹配，不中断请求。
func (o *Orchestrator) identify(ctx context.Context, img *image.NRGBA, i int, region geometry.Region,
	snapshot *index.Index, matcher index.Matcher) (model.CardResult, error) {
	card := model.CardResult{CardNumber: i + 1, Corners: corners(region.Quad)}
	if err := ctx.Err(); err != nil {
		return card, err
	}
	if snapshot == nil {
		card.Reason = model.ReasonDatabaseUnavailable
		return card, nil
	}

	rectified, err := o.rectifier.Rectify(img, region.Quad)
	if err != nil {
		utils.L(ctx).Debug("region rectification failed", zap.Int("card_number", i+1), zap.Error(err))
		card.Reason = model.ReasonRectifyFailed
		return card, nil
	}
	fp, err := o.engine.Compute(rectified)
	if err != nil {
		utils.L(ctx).Debug("fingerprint failed", zap.Int("card_number", i+1), zap.Error(err))
		card.Reason = model.ReasonFingerprintFailed
		return card, nil
	}

	m, err := matcher.Match(snapshot, fp)
	if err != nil {
		// 位数不一致是配置错误
		return card, fmt.Errorf("match card %d: %w", i+1, err)
	}
	metrics.MatchDistance.Observe(float64(m.Distance))
	distance := m.Distance
	card.Distance = &distance
	card.Confidence = m.Confidence

	if m.Matched {
		applyRecord(&card, m.Record, model.MethodFingerprint)
		metrics.CardsMatched.WithLabelValues(model.MethodFingerprint).Inc()
		return card, nil
	}

	if o.titles != nil {
		if rec, ok := o.matchByTitle(ctx, rectified, snapshot); ok {
			applyRecord(&card, rec, model.MethodName)
			card.Confidence = o.cfg.OCR.Confidence
			metrics.CardsMatched.WithLabelValues(model.MethodName).Inc()
			return card, nil
		}
	}
	card.Reason = model.ReasonNoCloseMatch
	return card, nil
}

func (o *Orchestrator) matchByTitle(ctx context.Context, rectified *image.NRGBA, snapshot *index.Index) (index.Record, bool) {
	title, err := o.titles.ReadTitle(ctx, rectified)
	if err != nil {
		utils.L(ctx).Debug("title ocr failed", zap.Error(err))
		return index.Record{}, false
	}
	if title == "" {
		return index.Record{}, false
	}
	return snapshot.LookupName(title)
}

func applyRecord(card *model.CardResult, rec index.Record, method string) {
	card.Matched = true
	card.MatchMethod = method
	card.CatalogID = rec.ID
	card.Name = rec.Name
	card.Set = rec.SetName
	card.SetCode = rec.SetCode
	card.CollectorNumber = rec.CollectorNumber
	card.Rarity = rec.Rarity
	card.Reason = ""
}

// enrich 并发查询已匹配卡片，目录调用统一经过进程级令牌桶；失败只标记，不影响匹配。
// 返回true表示有卡片因目录暂时失败而缺少实时数据(目录已禁用不算)。
func (o *Orchestrator) enrich(ctx context.Context, cards []model.CardResult) bool {
	if o.enricher == nil {
		return false
	}
	var degraded atomic.Bool
	var g errgroup.Group
	g.SetLimit(max(o.workers, 4))
	for i := range cards {
		if !cards[i].Matched {
			continue
		}
		g.Go(func() error {
			live, err := o.enricher.Enrich(ctx, catalog.CardRef{
				ID:     cards[i].CatalogID,
				Set:    cards[i].SetCode,
				Number: cards[i].CollectorNumber,
			})
			if err != nil {
				cards[i].Enrichment = model.EnrichmentUnavailable
				if !errors.Is(err, catalog.ErrDisabled) {
					degraded.Store(true)
				}
				return nil
			}
			applyCatalog(&cards[i], live)
			return nil
		})
	}
	_ = g.Wait()
	return degraded.Load()
}

// applyCatalog 本地元数据优先，目录只补充价格、图片与缺失字段
func applyCatalog(card *model.CardResult, live *catalog.Card) {
	card.ImageURL = live.ImageURL()
	card.CatalogURI = live.ScryfallURI
	card.Prices = &model.Prices{
		USD:     live.Prices.USD,
		USDFoil: live.Prices.USDFoil,
		EUR:     live.Prices.EUR,
		Tix:     live.Prices.Tix,
	}
	if card.Name == "" {
		card.Name = live.Name
	}
	if card.Set == "" {
		card.Set = live.SetName
	}
	if card.SetCode == "" {
		card.SetCode = live.Set
	}
	if card.CollectorNumber == "" {
		card.CollectorNumber = live.CollectorNumber
	}
	if card.Rarity == "" {
		card.Rarity = live.Rarity
	}
}

func corners(q geometry.Quad) [][2]float64 {
	out := make([][2]float64, len(q))
	for i, p := range q {
		out[i] = [2]float64{p.X, p.Y}
	}
	return out
}
