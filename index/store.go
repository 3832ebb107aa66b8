package index

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/TIANLI0/CardKit/utils"
	"go.uber.org/zap"
)

// Store 持有当前发布的快照。读者通过Current获取，整体替换，从不原地修改。
type Store struct {
	current  atomic.Pointer[Index]
	hashBits atomic.Int64
}

func NewStore() *Store {
	return &Store{}
}

// Current 当前快照，未加载时返回nil
func (s *Store) Current() *Index {
	return s.current.Load()
}

// RequireHashBits 之后Load的快照必须是n位指纹，否则拒绝发布。n<=0取消限制。
func (s *Store) RequireHashBits(n int) {
	s.hashBits.Store(int64(n))
}

// Snapshot 当前快照，未加载时返回ErrUnavailable
func (s *Store) Snapshot() (*Index, error) {
	if idx := s.current.Load(); idx != nil {
		return idx, nil
	}
	return nil, ErrUnavailable
}

// Publish 发布一个已构建完成的快照
func (s *Store) Publish(idx *Index) {
	s.current.Store(idx)
}

// Load 通过loader构建新快照并原子发布。失败时保留旧快照。
func (s *Store) Load(ctx context.Context, loader Loader) (*Index, error) {
	start := time.Now()
	records, checksum, err := loader.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load %s index: %w", loader.Source(), err)
	}
	idx, err := New(records, loader.Source())
	if err != nil {
		return nil, fmt.Errorf("build %s index: %w", loader.Source(), err)
	}
	idx.checksum = checksum
	if want := int(s.hashBits.Load()); want > 0 && idx.HashBits() != want {
		return nil, fmt.Errorf("%w: %s index has %d-bit fingerprints, engine produces %d",
			ErrLengthMismatch, loader.Source(), idx.HashBits(), want)
	}

	prev := s.current.Swap(idx)
	fields := []zap.Field{
		zap.String("source", idx.Source()),
		zap.Int("cards", idx.Len()),
		zap.Int("hash_bits", idx.HashBits()),
		zap.Int("sets", idx.SetCount()),
		zap.Duration("cost", time.Since(start)),
	}
	if prev != nil {
		fields = append(fields, zap.Int("previous_cards", prev.Len()))
	}
	utils.L(ctx).Info("card database loaded", fields...)
	return idx, nil
}
