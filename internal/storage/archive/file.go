package archive

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"GraphChat/internal/event"
)

// tailSize 限制内存中保留的最近事件条数，磁盘文件不受影响。
const tailSize = 512

// FileRepository 把事件以 JSON 行追加到本地文件，
// 并在内存里维护最近若干条用于快速查询。适合单机部署。
type FileRepository struct {
	mu       sync.RWMutex
	dataFile string
	recent   []event.Event
}

// NewFileRepository 创建文件归档仓库，启动时回放已有日志。
func NewFileRepository(dataDir string) (*FileRepository, error) {
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}
	repo := &FileRepository{dataFile: filepath.Join(dataDir, "events.log")}
	if err := repo.loadFromDisk(); err != nil {
		return nil, err
	}
	return repo, nil
}

// Save 以追加写的方式记录事件。
func (r *FileRepository) Save(_ context.Context, evt event.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	file, err := os.OpenFile(r.dataFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("打开事件日志失败: %w", err)
	}
	defer file.Close()

	encoded, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("序列化事件失败: %w", err)
	}
	if _, err := file.Write(append(encoded, '\n')); err != nil {
		return fmt.Errorf("写入事件日志失败: %w", err)
	}

	r.recent = append([]event.Event{evt}, r.recent...)
	if len(r.recent) > tailSize {
		r.recent = r.recent[:tailSize]
	}
	return nil
}

// ListRecent 返回最近的事件记录。
func (r *FileRepository) ListRecent(_ context.Context, limit int) ([]event.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if limit <= 0 || limit > len(r.recent) {
		limit = len(r.recent)
	}
	results := make([]event.Event, limit)
	copy(results, r.recent[:limit])
	return results, nil
}

// Close 对文件仓库是空操作，每次写入都独立打开关闭。
func (r *FileRepository) Close() error {
	return nil
}

func (r *FileRepository) loadFromDisk() error {
	file, err := os.OpenFile(r.dataFile, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("读取事件日志失败: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var restored []event.Event
	for scanner.Scan() {
		var evt event.Event
		if err := json.Unmarshal(scanner.Bytes(), &evt); err != nil {
			continue
		}
		restored = append([]event.Event{evt}, restored...)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("解析事件日志失败: %w", err)
	}

	if len(restored) > tailSize {
		restored = restored[:tailSize]
	}
	if len(restored) > 0 {
		r.recent = restored
	}
	return nil
}

var _ Repository = (*FileRepository)(nil)
