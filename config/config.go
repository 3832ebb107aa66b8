package config

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig      `mapstructure:"server" toml:"server"`
	Redis       RedisConfig       `mapstructure:"redis" toml:"redis"`
	Upload      UploadConfig      `mapstructure:"upload" toml:"upload"`
	Index       IndexConfig       `mapstructure:"index" toml:"index"`
	Fingerprint FingerprintConfig `mapstructure:"fingerprint" toml:"fingerprint"`
	Rectifier   RectifierConfig   `mapstructure:"rectifier" toml:"rectifier"`
	Pipeline    PipelineConfig    `mapstructure:"pipeline" toml:"pipeline"`
	Scan        ScanConfig        `mapstructure:"scan" toml:"scan"`
	Catalog     CatalogConfig     `mapstructure:"catalog" toml:"catalog"`
	OCR         OCRConfig         `mapstructure:"ocr" toml:"ocr"`
}

type ServerConfig struct {
	Port         string        `mapstructure:"port" toml:"port"`
	Mode         string        `mapstructure:"mode" toml:"mode"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" toml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" toml:"write_timeout"`
}

type RedisConfig struct {
	Enabled    bool          `mapstructure:"enabled" toml:"enabled"`
	Addr       string        `mapstructure:"addr" toml:"addr"`
	Password   string        `mapstructure:"password" toml:"password"`
	DB         int           `mapstructure:"db" toml:"db"`
	TTL        time.Duration `mapstructure:"ttl" toml:"ttl"`
	CatalogTTL time.Duration `mapstructure:"catalog_ttl" toml:"catalog_ttl"`
}

type UploadConfig struct {
	MaxSize      int64    `mapstructure:"max_size" toml:"max_size"`
	AllowedTypes []string `mapstructure:"allowed_types" toml:"allowed_types"`
}

// IndexConfig 参考指纹库的来源
type IndexConfig struct {
	Source      string        `mapstructure:"source" toml:"source"` // json, sqlite, postgres
	Path        string        `mapstructure:"path" toml:"path"`
	DSN         string        `mapstructure:"dsn" toml:"dsn"`
	Table       string        `mapstructure:"table" toml:"table"`
	LockTimeout time.Duration `mapstructure:"lock_timeout" toml:"lock_timeout"`
	StatsSample int           `mapstructure:"stats_sample" toml:"stats_sample"`
}

type FingerprintConfig struct {
	HashSize       int `mapstructure:"hash_size" toml:"hash_size"`
	HighFreqFactor int `mapstructure:"highfreq_factor" toml:"highfreq_factor"`
}

type RectifierConfig struct {
	Width            int     `mapstructure:"width" toml:"width"`
	Height           int     `mapstructure:"height" toml:"height"`
	OrientationCheck bool    `mapstructure:"orientation_check" toml:"orientation_check"`
	OrientationDelta float64 `mapstructure:"orientation_delta" toml:"orientation_delta"`
}

type PipelineConfig struct {
	Workers        int           `mapstructure:"workers" toml:"workers"`
	MaxConcurrent  int           `mapstructure:"max_concurrent" toml:"max_concurrent"`
	QueueTimeout   time.Duration `mapstructure:"queue_timeout" toml:"queue_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" toml:"request_timeout"`
	MaxSide        int           `mapstructure:"max_side" toml:"max_side"`
}

// ScanProfile 一种扫描模式的检测与匹配阈值
type ScanProfile struct {
	MinAreaRatio    float64 `mapstructure:"min_area_ratio" toml:"min_area_ratio"`
	MaxAreaRatio    float64 `mapstructure:"max_area_ratio" toml:"max_area_ratio"`
	AspectRatio     float64 `mapstructure:"aspect_ratio" toml:"aspect_ratio"`
	AspectTolerance float64 `mapstructure:"aspect_tolerance" toml:"aspect_tolerance"`
	ApproxEpsilon   float64 `mapstructure:"approx_epsilon" toml:"approx_epsilon"`
	ContrastClip    float64 `mapstructure:"contrast_clip" toml:"contrast_clip"`
	MaxRegions      int     `mapstructure:"max_regions" toml:"max_regions"`
	MaxDistance     int     `mapstructure:"max_distance" toml:"max_distance"`
	MinConfidence   int     `mapstructure:"min_confidence" toml:"min_confidence"`
}

type ScanConfig struct {
	Default ScanProfile `mapstructure:"default" toml:"default"`
	Pro     ScanProfile `mapstructure:"pro" toml:"pro"`
}

type CatalogConfig struct {
	Enabled    bool          `mapstructure:"enabled" toml:"enabled"`
	BaseURL    string        `mapstructure:"base_url" toml:"base_url"`
	UserAgent  string        `mapstructure:"user_agent" toml:"user_agent"`
	RateLimit  float64       `mapstructure:"rate_limit" toml:"rate_limit"`
	Burst      int           `mapstructure:"burst" toml:"burst"`
	Timeout    time.Duration `mapstructure:"timeout" toml:"timeout"`
	MaxRetries int           `mapstructure:"max_retries" toml:"max_retries"`
}

type OCRConfig struct {
	Enabled    bool   `mapstructure:"enabled" toml:"enabled"`
	Language   string `mapstructure:"language" toml:"language"`
	Confidence int    `mapstructure:"confidence" toml:"confidence"`
}

// Profile 根据模式名返回扫描阈值，未知模式返回false
func (c *Config) Profile(mode string) (ScanProfile, bool) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", "default":
		return c.Scan.Default, true
	case "pro":
		return c.Scan.Pro, true
	default:
		return ScanProfile{}, false
	}
}

// Load 从配置文件加载配置，环境变量 CARDKIT_* 覆盖文件中的值
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetEnvPrefix("CARDKIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 设置默认值
	setDefaults(v)

	// 读取配置文件
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// New 使用默认配置路径加载配置
func New() *Config {
	cfg, err := Load("config.yaml")
	if err != nil {
		// 如果加载失败，返回默认配置
		return getDefaultConfig()
	}
	return cfg
}

// Default 返回内置默认配置
func Default() *Config {
	return getDefaultConfig()
}

func setDefaults(v *viper.Viper) {
	d := getDefaultConfig()

	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.mode", d.Server.Mode)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)

	v.SetDefault("redis.enabled", d.Redis.Enabled)
	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)
	v.SetDefault("redis.ttl", d.Redis.TTL)
	v.SetDefault("redis.catalog_ttl", d.Redis.CatalogTTL)

	v.SetDefault("upload.max_size", d.Upload.MaxSize)
	v.SetDefault("upload.allowed_types", d.Upload.AllowedTypes)

	v.SetDefault("index.source", d.Index.Source)
	v.SetDefault("index.path", d.Index.Path)
	v.SetDefault("index.dsn", d.Index.DSN)
	v.SetDefault("index.table", d.Index.Table)
	v.SetDefault("index.lock_timeout", d.Index.LockTimeout)
	v.SetDefault("index.stats_sample", d.Index.StatsSample)

	v.SetDefault("fingerprint.hash_size", d.Fingerprint.HashSize)
	v.SetDefault("fingerprint.highfreq_factor", d.Fingerprint.HighFreqFactor)

	v.SetDefault("rectifier.width", d.Rectifier.Width)
	v.SetDefault("rectifier.height", d.Rectifier.Height)
	v.SetDefault("rectifier.orientation_check", d.Rectifier.OrientationCheck)
	v.SetDefault("rectifier.orientation_delta", d.Rectifier.OrientationDelta)

	v.SetDefault("pipeline.workers", d.Pipeline.Workers)
	v.SetDefault("pipeline.max_concurrent", d.Pipeline.MaxConcurrent)
	v.SetDefault("pipeline.queue_timeout", d.Pipeline.QueueTimeout)
	v.SetDefault("pipeline.request_timeout", d.Pipeline.RequestTimeout)
	v.SetDefault("pipeline.max_side", d.Pipeline.MaxSide)

	setProfileDefaults(v, "scan.default", d.Scan.Default)
	setProfileDefaults(v, "scan.pro", d.Scan.Pro)

	v.SetDefault("catalog.enabled", d.Catalog.Enabled)
	v.SetDefault("catalog.base_url", d.Catalog.BaseURL)
	v.SetDefault("catalog.user_agent", d.Catalog.UserAgent)
	v.SetDefault("catalog.rate_limit", d.Catalog.RateLimit)
	v.SetDefault("catalog.burst", d.Catalog.Burst)
	v.SetDefault("catalog.timeout", d.Catalog.Timeout)
	v.SetDefault("catalog.max_retries", d.Catalog.MaxRetries)

	v.SetDefault("ocr.enabled", d.OCR.Enabled)
	v.SetDefault("ocr.language", d.OCR.Language)
	v.SetDefault("ocr.confidence", d.OCR.Confidence)
}

func setProfileDefaults(v *viper.Viper, prefix string, p ScanProfile) {
	v.SetDefault(prefix+".min_area_ratio", p.MinAreaRatio)
	v.SetDefault(prefix+".max_area_ratio", p.MaxAreaRatio)
	v.SetDefault(prefix+".aspect_ratio", p.AspectRatio)
	v.SetDefault(prefix+".aspect_tolerance", p.AspectTolerance)
	v.SetDefault(prefix+".approx_epsilon", p.ApproxEpsilon)
	v.SetDefault(prefix+".contrast_clip", p.ContrastClip)
	v.SetDefault(prefix+".max_regions", p.MaxRegions)
	v.SetDefault(prefix+".max_distance", p.MaxDistance)
	v.SetDefault(prefix+".min_confidence", p.MinConfidence)
}

func getDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         ":8080",
			Mode:         "debug",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
		},
		Redis: RedisConfig{
			Enabled:    true,
			Addr:       "localhost:6379",
			Password:   "",
			DB:         0,
			TTL:        time.Hour,
			CatalogTTL: 6 * time.Hour,
		},
		Upload: UploadConfig{
			MaxSize:      20 * 1024 * 1024,
			AllowedTypes: []string{"image/jpeg", "image/png", "image/jpg", "image/webp"},
		},
		Index: IndexConfig{
			Source:      "json",
			Path:        "./cache/card_hashes.json",
			Table:       "card_hashes",
			LockTimeout: 10 * time.Second,
			StatsSample: 100,
		},
		Fingerprint: FingerprintConfig{
			HashSize:       16,
			HighFreqFactor: 4,
		},
		Rectifier: RectifierConfig{
			Width:            488,
			Height:           680,
			OrientationCheck: true,
			OrientationDelta: 20,
		},
		Pipeline: PipelineConfig{
			Workers:        4,
			MaxConcurrent:  3,
			QueueTimeout:   30 * time.Second,
			RequestTimeout: 60 * time.Second,
			MaxSide:        1600,
		},
		Scan: ScanConfig{
			Default: ScanProfile{
				MinAreaRatio:    0.002,
				MaxAreaRatio:    0.95,
				AspectRatio:     63.0 / 88.0,
				AspectTolerance: 0.25,
				ApproxEpsilon:   0.03,
				ContrastClip:    2.0,
				MaxRegions:      0,
				MaxDistance:     20,
				MinConfidence:   10,
			},
			Pro: ScanProfile{
				MinAreaRatio:    0.05,
				MaxAreaRatio:    0.98,
				AspectRatio:     63.0 / 88.0,
				AspectTolerance: 0.15,
				ApproxEpsilon:   0.02,
				ContrastClip:    3.0,
				MaxRegions:      1,
				MaxDistance:     16,
				MinConfidence:   25,
			},
		},
		Catalog: CatalogConfig{
			Enabled:    true,
			BaseURL:    "https://api.scryfall.com",
			UserAgent:  "CardKit/1.0",
			RateLimit:  10,
			Burst:      1,
			Timeout:    5 * time.Second,
			MaxRetries: 2,
		},
		OCR: OCRConfig{
			Enabled:    false,
			Language:   "eng",
			Confidence: 50,
		},
	}
}

// Validate 检查配置之间的约束
const redactedValue = "******"

var dsnPassword = regexp.MustCompile(`(?i)(password\s*=\s*)('[^']*'|\S+)`)

// Redacted 返回隐藏了密码的副本，用于打印配置
func (c *Config) Redacted() Config {
	out := *c
	if out.Redis.Password != "" {
		out.Redis.Password = redactedValue
	}
	out.Index.DSN = redactDSN(out.Index.DSN)
	return out
}

// redactDSN 支持URL与key=value两种PostgreSQL连接串
func redactDSN(dsn string) string {
	if dsn == "" {
		return dsn
	}
	if strings.Contains(dsn, "://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return redactedValue
		}
		if _, ok := u.User.Password(); ok {
			u.User = url.UserPassword(u.User.Username(), redactedValue)
		}
		return u.String()
	}
	return dsnPassword.ReplaceAllString(dsn, "${1}"+redactedValue)
}

func (c *Config) Validate() error {
	var errs []error

	if n := c.Fingerprint.HashSize; n < 8 || n&(n-1) != 0 {
		errs = append(errs, fmt.Errorf("fingerprint.hash_size must be a power of two >= 8, got %d", n))
	}
	if c.Fingerprint.HighFreqFactor < 1 {
		errs = append(errs, fmt.Errorf("fingerprint.highfreq_factor must be >= 1"))
	}
	if c.Rectifier.Width <= 0 || c.Rectifier.Height <= 0 {
		errs = append(errs, fmt.Errorf("rectifier dimensions must be positive"))
	}
	if c.Pipeline.Workers < 1 || c.Pipeline.MaxConcurrent < 1 {
		errs = append(errs, fmt.Errorf("pipeline.workers and pipeline.max_concurrent must be >= 1"))
	}
	if c.Catalog.Enabled && c.Catalog.RateLimit <= 0 {
		errs = append(errs, fmt.Errorf("catalog.rate_limit must be positive"))
	}
	if c.Catalog.Burst < 1 {
		errs = append(errs, fmt.Errorf("catalog.burst must be >= 1"))
	}
	switch c.Index.Source {
	case "json", "sqlite":
		if strings.TrimSpace(c.Index.Path) == "" {
			errs = append(errs, fmt.Errorf("index.path required for source %q", c.Index.Source))
		}
	case "postgres":
		if strings.TrimSpace(c.Index.DSN) == "" {
			errs = append(errs, fmt.Errorf("index.dsn required for source postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown index.source %q", c.Index.Source))
	}
	if c.OCR.Enabled && (c.OCR.Confidence < 1 || c.OCR.Confidence > 100) {
		errs = append(errs, fmt.Errorf("ocr.confidence must be within 1..100"))
	}

	for name, p := range map[string]ScanProfile{"default": c.Scan.Default, "pro": c.Scan.Pro} {
		if err := p.validate(); err != nil {
			errs = append(errs, fmt.Errorf("scan.%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func (p ScanProfile) validate() error {
	if p.MinAreaRatio <= 0 || p.MaxAreaRatio > 1 || p.MinAreaRatio >= p.MaxAreaRatio {
		return fmt.Errorf("area ratios must satisfy 0 < min < max <= 1")
	}
	if p.AspectRatio <= 0 || p.AspectRatio > 1 {
		return fmt.Errorf("aspect_ratio must be within (0,1]")
	}
	if p.AspectTolerance <= 0 {
		return fmt.Errorf("aspect_tolerance must be positive")
	}
	if p.ApproxEpsilon <= 0 || p.ApproxEpsilon >= 0.5 {
		return fmt.Errorf("approx_epsilon must be within (0,0.5)")
	}
	// 置信度按整数步长递减，距离上限超过100会出现相邻距离同分
	if p.MaxDistance < 1 || p.MaxDistance > 100 {
		return fmt.Errorf("max_distance must be within 1..100")
	}
	if p.MinConfidence < 1 || p.MinConfidence > 100 {
		return fmt.Errorf("min_confidence must be within 1..100")
	}
	if p.MaxRegions < 0 {
		return fmt.Errorf("max_regions must be >= 0")
	}
	return nil
}
