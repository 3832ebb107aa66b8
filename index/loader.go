package index

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/TIANLI0/CardKit/config"
	"github.com/TIANLI0/CardKit/utils"
)

// Loader 从某种制品读取全部参考记录。制品由离线建库程序写出，这里只读。
type Loader interface {
	// Load 返回记录以及制品校验和(无法计算时为空)
	Load(ctx context.Context) ([]Record, string, error)
	Source() string
}

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// NewLoader 根据配置选择加载器
func NewLoader(cfg *config.IndexConfig) (Loader, error) {
	switch cfg.Source {
	case "json", "":
		return &JSONLoader{Path: cfg.Path, LockTimeout: cfg.LockTimeout}, nil
	case "sqlite":
		if !tableName.MatchString(cfg.Table) {
			return nil, fmt.Errorf("invalid table name %q", cfg.Table)
		}
		return &SQLiteLoader{Path: cfg.Path, Table: cfg.Table, LockTimeout: cfg.LockTimeout}, nil
	case "postgres":
		if !tableName.MatchString(cfg.Table) {
			return nil, fmt.Errorf("invalid table name %q", cfg.Table)
		}
		return &PostgresLoader{DSN: cfg.DSN, Table: cfg.Table}, nil
	default:
		return nil, fmt.Errorf("unknown index source %q", cfg.Source)
	}
}

// Artifact JSON制品的文档结构
type Artifact struct {
	Version  int      `json:"version"`
	HashBits int      `json:"hash_bits"`
	Records  []Record `json:"records"`
}

type JSONLoader struct {
	Path        string
	LockTimeout time.Duration
}

func (l *JSONLoader) Source() string { return "json" }

func (l *JSONLoader) Load(ctx context.Context) ([]Record, string, error) {
	var (
		doc      Artifact
		checksum string
	)
	err := withReadLock(ctx, l.Path, l.LockTimeout, func() error {
		f, err := os.Open(l.Path)
		if err != nil {
			return err
		}
		defer f.Close()

		if err := json.NewDecoder(f).Decode(&doc); err != nil {
			return fmt.Errorf("decode %s: %w", l.Path, err)
		}
		checksum, err = utils.FileMD5(l.Path)
		return err
	})
	if err != nil {
		return nil, "", err
	}

	if doc.HashBits > 0 {
		for _, r := range doc.Records {
			if r.Fingerprint.Len() != doc.HashBits {
				return nil, "", fmt.Errorf("%w: record %s has %d bits, artifact declares %d",
					ErrLengthMismatch, r.ID, r.Fingerprint.Len(), doc.HashBits)
			}
		}
	}
	return doc.Records, checksum, nil
}

// WriteArtifact 写出JSON制品，供测试与离线工具使用
func WriteArtifact(path string, records []Record) error {
	doc := Artifact{Version: 1, Records: records}
	if len(records) > 0 {
		doc.HashBits = records[0].Fingerprint.Len()
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
