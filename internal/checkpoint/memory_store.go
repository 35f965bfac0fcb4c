package checkpoint

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore 将检查点保存在进程内存中，适用于开发环境与单元测试。
// 所有读写都会做深拷贝，防止调用方与存储共享可变状态。
type MemoryStore struct {
	mu      sync.RWMutex
	threads map[string]*Checkpoint
}

// NewMemoryStore 创建内存检查点存储。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{threads: make(map[string]*Checkpoint)}
}

// Put 写入或覆盖线程检查点。
func (s *MemoryStore) Put(ctx context.Context, cp *Checkpoint) error {
	if err := cp.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := cp.Clone()
	if existing, ok := s.threads[cp.ThreadID]; ok {
		stored.CreatedAt = existing.CreatedAt
	}
	stored.Touch(time.Now())
	s.threads[cp.ThreadID] = stored

	cp.CreatedAt = stored.CreatedAt
	cp.UpdatedAt = stored.UpdatedAt
	return nil
}

// Get 返回线程检查点的副本。
func (s *MemoryStore) Get(ctx context.Context, threadID string) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp, ok := s.threads[threadID]
	if !ok {
		return nil, ErrThreadNotFound
	}
	return cp.Clone(), nil
}

// Delete 删除线程检查点。
func (s *MemoryStore) Delete(ctx context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.threads[threadID]; !ok {
		return ErrThreadNotFound
	}
	delete(s.threads, threadID)
	return nil
}

// List 按过滤条件返回线程检查点。
func (s *MemoryStore) List(ctx context.Context, opts ...ListOption) ([]*Checkpoint, error) {
	options := buildListOptions(opts)

	s.mu.RLock()
	matched := make([]*Checkpoint, 0, len(s.threads))
	for _, cp := range s.threads {
		if !matchesFilter(cp, options) {
			continue
		}
		matched = append(matched, cp.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if options.Order == SortByUpdatedAsc {
			return matched[i].UpdatedAt < matched[j].UpdatedAt
		}
		return matched[i].UpdatedAt > matched[j].UpdatedAt
	})

	if options.Offset >= len(matched) {
		return []*Checkpoint{}, nil
	}
	matched = matched[options.Offset:]
	if len(matched) > options.Limit {
		matched = matched[:options.Limit]
	}
	return matched, nil
}

// Stats 返回线程状态统计。
func (s *MemoryStore) Stats(ctx context.Context) (*ThreadStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &ThreadStats{}
	for _, cp := range s.threads {
		stats.Total++
		switch cp.Status {
		case StatusActive:
			stats.Active++
		case StatusInterrupted:
			stats.Interrupted++
		}
		if stats.OldestUpdatedAt == 0 || cp.UpdatedAt < stats.OldestUpdatedAt {
			stats.OldestUpdatedAt = cp.UpdatedAt
		}
		if cp.UpdatedAt > stats.NewestUpdatedAt {
			stats.NewestUpdatedAt = cp.UpdatedAt
		}
	}
	return stats, nil
}

// Close 实现 Store 接口，内存存储无需释放资源。
func (s *MemoryStore) Close() error {
	return nil
}

func matchesFilter(cp *Checkpoint, options ListOptions) bool {
	if len(options.Statuses) > 0 {
		hit := false
		for _, status := range options.Statuses {
			if cp.Status == status {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}
	if options.UpdatedGTE > 0 && cp.UpdatedAt < options.UpdatedGTE {
		return false
	}
	if options.UpdatedLTE > 0 && cp.UpdatedAt > options.UpdatedLTE {
		return false
	}
	return true
}
