// Package index 参考指纹库：不可变快照、原子替换的存储以及最近邻匹配。
package index

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/TIANLI0/CardKit/fingerprint"
)

var (
	// ErrUnavailable 尚未加载任何参考库
	ErrUnavailable = errors.New("card database unavailable")
	// ErrLengthMismatch 查询指纹与库中指纹位数不一致
	ErrLengthMismatch = fingerprint.ErrLengthMismatch
	ErrDuplicateID    = errors.New("duplicate card id")
	ErrEmpty          = errors.New("card database is empty")
)

// Record 一条参考卡片记录
type Record struct {
	ID              string                  `json:"id"`
	Name            string                  `json:"name"`
	SetCode         string                  `json:"set_code"`
	SetName         string                  `json:"set_name"`
	CollectorNumber string                  `json:"collector_number"`
	Rarity          string                  `json:"rarity"`
	Fingerprint     fingerprint.Fingerprint `json:"hash"`
}

// Index 加载完成后只读的快照，可被任意多个请求并发读取
type Index struct {
	records  []Record
	words    []uint64 // 所有指纹按记录顺序平铺
	stride   int
	bits     int
	names    map[string][]int
	sets     int
	source   string
	checksum string
	loadedAt time.Time
}

// New 由记录构建快照。记录按ID排序，使遍历顺序与制品中的行顺序无关。
func New(records []Record, source string) (*Index, error) {
	if len(records) == 0 {
		return nil, ErrEmpty
	}
	sorted := make([]Record, len(records))
	copy(sorted, records)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	bits := sorted[0].Fingerprint.Len()
	if bits == 0 {
		return nil, fmt.Errorf("record %s has no fingerprint", sorted[0].ID)
	}
	stride := (bits + 63) / 64

	idx := &Index{
		records:  sorted,
		words:    make([]uint64, 0, stride*len(sorted)),
		stride:   stride,
		bits:     bits,
		names:    make(map[string][]int, len(sorted)),
		source:   source,
		loadedAt: time.Now(),
	}
	sets := make(map[string]struct{})
	for i, r := range sorted {
		if i > 0 && sorted[i-1].ID == r.ID {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateID, r.ID)
		}
		if r.Fingerprint.Len() != bits {
			return nil, fmt.Errorf("%w: record %s has %d bits, expected %d",
				ErrLengthMismatch, r.ID, r.Fingerprint.Len(), bits)
		}
		idx.words = append(idx.words, r.Fingerprint.Words()...)
		if key := NormalizeName(r.Name); key != "" {
			idx.names[key] = append(idx.names[key], i)
		}
		if r.SetCode != "" {
			sets[r.SetCode] = struct{}{}
		}
	}
	idx.sets = len(sets)
	return idx, nil
}

func (x *Index) Len() int { return len(x.records) }

// HashBits 库中指纹的位数
func (x *Index) HashBits() int { return x.bits }

func (x *Index) Source() string { return x.source }

func (x *Index) Checksum() string { return x.checksum }

func (x *Index) LoadedAt() time.Time { return x.loadedAt }

// Version 标识快照内容，用于区分不同参考库下的缓存结果。
// 有校验和时用校验和，否则用加载时间。
func (x *Index) Version() string {
	if x.checksum != "" {
		return x.checksum
	}
	return strconv.FormatInt(x.loadedAt.UnixNano(), 36)
}

func (x *Index) SetCount() int { return x.sets }

// Record 第i条记录(ID顺序)
func (x *Index) Record(i int) Record { return x.records[i] }

// LookupName 按规范化名称查找，同名时返回ID最小的一条
func (x *Index) LookupName(name string) (Record, bool) {
	ids := x.names[NormalizeName(name)]
	if len(ids) == 0 {
		return Record{}, false
	}
	return x.records[ids[0]], true
}

// FindByName 同名的全部记录(各个印刷版本)，按ID顺序，最多limit条
func (x *Index) FindByName(name string, limit int) []Record {
	ids := x.names[NormalizeName(name)]
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]Record, 0, len(ids))
	for _, i := range ids {
		out = append(out, x.records[i])
	}
	return out
}

// Get 按ID查找
func (x *Index) Get(id string) (Record, bool) {
	i := sort.Search(len(x.records), func(i int) bool { return x.records[i].ID >= id })
	if i < len(x.records) && x.records[i].ID == id {
		return x.records[i], true
	}
	return Record{}, false
}
