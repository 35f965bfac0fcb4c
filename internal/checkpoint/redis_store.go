package checkpoint

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	xerrors "GraphChat/internal/errors"
)

// RedisStoreConfig 描述 Redis 检查点存储的连接参数。
type RedisStoreConfig struct {
	Address   string
	Password  string
	DB        int
	KeyPrefix string
	// TTL 大于零时检查点在最后一次写入后过期，闲置线程自动清理。
	TTL time.Duration
}

// RedisStore 把每个线程的检查点存成一个 JSON 值，键为 prefix + threadID。
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore 创建 Redis 检查点存储实例。
func NewRedisStore(cfg RedisStoreConfig) (*RedisStore, error) {
	if cfg.Address == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "Redis address 不能为空")
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "graphchat:thread:"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 Redis 失败")
	}
	return &RedisStore{client: client, prefix: prefix, ttl: cfg.TTL}, nil
}

func (s *RedisStore) key(threadID string) string {
	return s.prefix + threadID
}

// Put 序列化并写入线程检查点，沿用已有记录的创建时间。
func (s *RedisStore) Put(ctx context.Context, cp *Checkpoint) error {
	if err := cp.Validate(); err != nil {
		return err
	}
	if cp.CreatedAt == 0 {
		if existing, err := s.Get(ctx, cp.ThreadID); err == nil {
			cp.CreatedAt = existing.CreatedAt
		}
	}
	cp.Touch(time.Now())

	raw, err := json.Marshal(cp)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码线程检查点失败")
	}
	if err := s.client.Set(ctx, s.key(cp.ThreadID), raw, s.ttl).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "Redis 写入线程检查点失败")
	}
	return nil
}

// Get 读取指定线程的检查点。
func (s *RedisStore) Get(ctx context.Context, threadID string) (*Checkpoint, error) {
	raw, err := s.client.Get(ctx, s.key(threadID)).Result()
	if err != nil {
		if stdErrors.Is(err, redis.Nil) {
			return nil, ErrThreadNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "Redis 读取线程检查点失败")
	}

	var cp Checkpoint
	if err := json.Unmarshal([]byte(raw), &cp); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析线程检查点失败")
	}
	return &cp, nil
}

// Delete 删除指定线程的检查点。
func (s *RedisStore) Delete(ctx context.Context, threadID string) error {
	removed, err := s.client.Del(ctx, s.key(threadID)).Result()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "Redis 删除线程检查点失败")
	}
	if removed == 0 {
		return ErrThreadNotFound
	}
	return nil
}

// List 扫描全部线程键并在内存中过滤排序。线程规模可控，SCAN 足够。
func (s *RedisStore) List(ctx context.Context, opts ...ListOption) ([]*Checkpoint, error) {
	options := buildListOptions(opts)

	all, err := s.loadAll(ctx)
	if err != nil {
		return nil, err
	}

	matched := make([]*Checkpoint, 0, len(all))
	for _, cp := range all {
		if matchesFilter(cp, options) {
			matched = append(matched, cp)
		}
	}

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
func (s *RedisStore) Stats(ctx context.Context) (*ThreadStats, error) {
	all, err := s.loadAll(ctx)
	if err != nil {
		return nil, err
	}

	stats := &ThreadStats{}
	for _, cp := range all {
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

// Close 关闭 Redis 连接。
func (s *RedisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *RedisStore) loadAll(ctx context.Context) ([]*Checkpoint, error) {
	var checkpoints []*Checkpoint
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		raw, err := s.client.Get(ctx, iter.Val()).Result()
		if err != nil {
			if stdErrors.Is(err, redis.Nil) {
				// 键在扫描与读取之间过期，跳过即可。
				continue
			}
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "Redis 读取线程检查点失败")
		}
		var cp Checkpoint
		if err := json.Unmarshal([]byte(raw), &cp); err != nil {
			if strings.TrimSpace(raw) == "" {
				continue
			}
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析线程检查点失败")
		}
		checkpoints = append(checkpoints, &cp)
	}
	if err := iter.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "Redis 扫描线程键失败")
	}
	return checkpoints, nil
}

var _ Store = (*RedisStore)(nil)
