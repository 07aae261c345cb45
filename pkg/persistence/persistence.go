package persistence

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/betbot/circuitbot/pkg/logger"
)

// Service 持久化服务接口
type Service interface {
	NewStore(prefix, id string) Store
}

// Store 存储接口（last-write-wins，无事务语义）
type Store interface {
	Save(data interface{}) error
	Load(data interface{}) error
}

// ErrNotExists 表示数据不存在
var ErrNotExists = fmt.Errorf("persistence data not exists")

// JSONFileService 基于 JSON 文件的持久化服务
type JSONFileService struct {
	baseDir string
}

// NewJSONFileService 创建 JSON 文件持久化服务
func NewJSONFileService(baseDir string) *JSONFileService {
	return &JSONFileService{
		baseDir: baseDir,
	}
}

// NewStore 创建新的存储
func (s *JSONFileService) NewStore(prefix, id string) Store {
	return &JSONFileStore{
		baseDir: s.baseDir,
		key:     prefix + ":" + id,
	}
}

// JSONFileStore JSON 文件存储实现
// 同一个 store 的并发 Save 串行化，避免 tmp 文件互相覆盖
type JSONFileStore struct {
	baseDir string
	key     string
	mu      sync.Mutex
}

var keySanitizer = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// Path 返回落盘文件路径
func (s *JSONFileStore) Path() string {
	safe := keySanitizer.ReplaceAllString(s.key, "_")
	return filepath.Join(s.baseDir, safe+".json")
}

// Save 保存数据（tmp + rename 原子替换）
func (s *JSONFileStore) Save(data interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	logger.Debugf("[persistence] Save: key=%s", s.key)
	if err := os.MkdirAll(s.baseDir, 0o755); err != nil {
		return err
	}

	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}

	path := s.Path()
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Load 加载数据
func (s *JSONFileStore) Load(data interface{}) error {
	logger.Debugf("[persistence] Load: key=%s", s.key)
	b, err := os.ReadFile(s.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotExists
		}
		return err
	}
	if len(b) == 0 {
		return ErrNotExists
	}
	return json.Unmarshal(b, data)
}

// MemoryService 内存实现，主要用于测试和 dry-run
type MemoryService struct {
	mu   sync.Mutex
	data map[string][]byte
}

// NewMemoryService 创建内存持久化服务
func NewMemoryService() *MemoryService {
	return &MemoryService{data: make(map[string][]byte)}
}

// NewStore 创建新的存储
func (s *MemoryService) NewStore(prefix, id string) Store {
	return &memoryStore{svc: s, key: prefix + ":" + id}
}

// Raw 返回某个 key 最近一次保存的 JSON
func (s *MemoryService) Raw(prefix, id string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.data[prefix+":"+id]
	return b, ok
}

type memoryStore struct {
	svc *MemoryService
	key string
}

func (m *memoryStore) Save(data interface{}) error {
	b, err := json.Marshal(data)
	if err != nil {
		return err
	}
	m.svc.mu.Lock()
	m.svc.data[m.key] = b
	m.svc.mu.Unlock()
	return nil
}

func (m *memoryStore) Load(data interface{}) error {
	m.svc.mu.Lock()
	b, ok := m.svc.data[m.key]
	m.svc.mu.Unlock()
	if !ok {
		return ErrNotExists
	}
	return json.Unmarshal(b, data)
}
