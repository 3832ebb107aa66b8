// Package catalog Scryfall兼容的卡牌目录客户端，提供实时元数据与价格。
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/TIANLI0/CardKit/metrics"
	"github.com/TIANLI0/CardKit/utils"
	"go.uber.org/zap"
)

var (
	ErrNotFound = errors.New("card not found in catalog")
	ErrDisabled = errors.New("catalog disabled")
)

// StatusError 目录返回的非2xx响应
type StatusError struct {
	Code    int
	Latency time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("catalog returned %d (latency=%v)", e.Code, e.Latency)
}

type ImageURIs struct {
	Small  string `json:"small,omitempty"`
	Normal string `json:"normal,omitempty"`
	Large  string `json:"large,omitempty"`
	PNG    string `json:"png,omitempty"`
}

type Prices struct {
	USD     *string `json:"usd"`
	USDFoil *string `json:"usd_foil"`
	EUR     *string `json:"eur"`
	Tix     *string `json:"tix"`
}

type Face struct {
	Name      string     `json:"name"`
	ImageURIs *ImageURIs `json:"image_uris,omitempty"`
}

// Card 目录中的一张卡
type Card struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	Set             string     `json:"set"`
	SetName         string     `json:"set_name"`
	CollectorNumber string     `json:"collector_number"`
	Rarity          string     `json:"rarity"`
	ScryfallURI     string     `json:"scryfall_uri"`
	ImageURIs       *ImageURIs `json:"image_uris,omitempty"`
	CardFaces       []Face     `json:"card_faces,omitempty"`
	Prices          Prices     `json:"prices"`
}

// ImageURL 标准尺寸图片，双面卡取正面
func (c *Card) ImageURL() string {
	if c.ImageURIs != nil && c.ImageURIs.Normal != "" {
		return c.ImageURIs.Normal
	}
	if len(c.CardFaces) > 0 && c.CardFaces[0].ImageURIs != nil {
		return c.CardFaces[0].ImageURIs.Normal
	}
	return ""
}

type searchResponse struct {
	TotalCards int    `json:"total_cards"`
	Data       []Card `json:"data"`
}

// Lookup 富化流程需要的目录操作
type Lookup interface {
	Card(ctx context.Context, id string) (*Card, error)
	CardBySetNumber(ctx context.Context, set, number string) (*Card, error)
}

// CardRef 参考库记录在目录中的定位：ID优先，系列代码+收藏编号兜底
type CardRef struct {
	ID     string
	Set    string
	Number string
}

type Client struct {
	baseURL    string
	userAgent  string
	maxRetries int
	httpClient *http.Client
	limiter    *Limiter
}

var _ Lookup = (*Client)(nil)

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithLimiter 共享进程级令牌桶
func WithLimiter(l *Limiter) Option {
	return func(c *Client) {
		if l != nil {
			c.limiter = l
		}
	}
}

func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua = strings.TrimSpace(ua); ua != "" {
			c.userAgent = ua
		}
	}
}

func WithMaxRetries(n int) Option {
	return func(c *Client) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

func New(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, errors.New("catalog base url required")
	}
	client := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		userAgent:  "CardKit/1.0",
		maxRetries: 2,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		limiter:    NewLimiter(10, 1),
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// Card 按目录ID获取
func (c *Client) Card(ctx context.Context, id string) (*Card, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errors.New("card id must not be empty")
	}
	var card Card
	if err := c.get(ctx, "/cards/"+url.PathEscape(id), nil, &card); err != nil {
		return nil, err
	}
	return &card, nil
}

// CardBySetNumber 按系列代码与收藏编号获取
func (c *Client) CardBySetNumber(ctx context.Context, set, number string) (*Card, error) {
	set, number = strings.ToLower(strings.TrimSpace(set)), strings.TrimSpace(number)
	if set == "" || number == "" {
		return nil, errors.New("set and collector number required")
	}
	var card Card
	if err := c.get(ctx, "/cards/"+url.PathEscape(set)+"/"+url.PathEscape(number), nil, &card); err != nil {
		return nil, err
	}
	return &card, nil
}

// SearchExact 精确名称搜索，返回全部印刷版本
func (c *Client) SearchExact(ctx context.Context, name string) ([]Card, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("name must not be empty")
	}
	params := url.Values{}
	params.Set("q", "!"+strconv.Quote(name))
	params.Set("unique", "prints")
	var payload searchResponse
	if err := c.get(ctx, "/cards/search", params, &payload); err != nil {
		return nil, err
	}
	return payload.Data, nil
}

// get 每次尝试(含重试)都重新经过令牌桶
func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	var err error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if serr := SleepWithContext(ctx, backoff(attempt-1)); serr != nil {
				return serr
			}
		}
		if werr := c.limiter.Wait(ctx); werr != nil {
			return werr
		}
		err = c.do(ctx, endpoint, out)
		if err == nil || !IsRetriable(err) || ctx.Err() != nil {
			return err
		}
		utils.L(ctx).Debug("catalog request failed, retrying",
			zap.String("path", path),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}
	return err
}

func (c *Client) do(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	latency := time.Since(start)
	if err != nil {
		metrics.CatalogRequests.WithLabelValues("error").Inc()
		return fmt.Errorf("execute request (latency=%v): %w", latency, err)
	}
	defer resp.Body.Close()
	metrics.CatalogRequests.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		_, _ = io.Copy(io.Discard, resp.Body)
		return ErrNotFound
	case resp.StatusCode != http.StatusOK:
		_, _ = io.Copy(io.Discard, resp.Body)
		return &StatusError{Code: resp.StatusCode, Latency: latency}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode catalog response: %w", err)
	}
	return nil
}
