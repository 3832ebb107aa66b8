package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/TIANLI0/CardKit/catalog"
	"github.com/TIANLI0/CardKit/config"
	"github.com/TIANLI0/CardKit/model"
	"github.com/TIANLI0/CardKit/utils"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisService 扫描结果与目录卡片缓存
type RedisService struct {
	client     *redis.Client
	ttl        time.Duration
	catalogTTL time.Duration
}

func NewRedisService(cfg *config.RedisConfig) *RedisService {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &RedisService{
		client:     client,
		ttl:        cfg.TTL,
		catalogTTL: cfg.CatalogTTL,
	}
}

func (s *RedisService) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// scanKey 键中包含参考库版本，重新加载后旧结果自然失效
func scanKey(md5, mode, version string) string {
	return "scan:" + mode + ":" + version + ":" + md5
}

// GetScanResult 从缓存获取扫描结果，未命中时返回nil
func (s *RedisService) GetScanResult(ctx context.Context, md5, mode, version string) (*model.ScanResult, error) {
	data, err := s.client.Get(ctx, scanKey(md5, mode, version)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil // 缓存未命中
		}
		return nil, err
	}

	var result model.ScanResult
	if err := json.Unmarshal(data, &result); err != nil {
		utils.Logger.Error("failed to unmarshal scan result",
			zap.String("md5", md5), zap.Error(err))
		return nil, err
	}

	return &result, nil
}

// SetScanResult 缓存扫描结果
func (s *RedisService) SetScanResult(ctx context.Context, md5, mode, version string, result *model.ScanResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}

	return s.client.Set(ctx, scanKey(md5, mode, version), data, s.ttl).Err()
}

// GetCard 实现catalog.Cache，任何错误都视为未命中
func (s *RedisService) GetCard(ctx context.Context, id string) (*catalog.Card, bool) {
	data, err := s.client.Get(ctx, "card:"+id).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			utils.L(ctx).Debug("catalog cache read failed", zap.String("card_id", id), zap.Error(err))
		}
		return nil, false
	}
	var card catalog.Card
	if err := json.Unmarshal(data, &card); err != nil {
		return nil, false
	}
	return &card, true
}

func (s *RedisService) SetCard(ctx context.Context, id string, card *catalog.Card) {
	data, err := json.Marshal(card)
	if err != nil {
		return
	}
	if err := s.client.Set(ctx, "card:"+id, data, s.catalogTTL).Err(); err != nil {
		utils.L(ctx).Debug("catalog cache write failed", zap.String("card_id", id), zap.Error(err))
	}
}

func (s *RedisService) Close() error {
	return s.client.Close()
}
