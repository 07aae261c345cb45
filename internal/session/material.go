package session

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/betbot/circuitbot/internal/domain"
	"github.com/betbot/circuitbot/pkg/secretstore"
)

// Security TMS 证券目录条目
type Security struct {
	ID                 int64   `json:"id"`
	Symbol             string  `json:"symbol"`
	ISIN               string  `json:"isin"`
	ExchangeSecurityID int64   `json:"exchangeSecurityId,omitempty"`
	DPRRangeHigh       float64 `json:"dprRangeHigh,omitempty"`
}

// Material 登录后的会话材料（cookie、token、证券目录等）
// 由外部登录流程导入，bot 只读取并在刷新 token 时回写
type Material struct {
	Cookies      map[string]string `json:"cookies,omitempty"`
	AccessToken  string            `json:"accessToken,omitempty"` // id_token
	RefreshToken string            `json:"refreshToken,omitempty"`
	XSRFToken    string            `json:"xsrfToken,omitempty"`
	SUID         string            `json:"suid,omitempty"`
	RequestOwner string            `json:"requestOwner,omitempty"`
	MemberCode   string            `json:"memberCode,omitempty"`
	Client       json.RawMessage   `json:"client,omitempty"` // clientDealerMember.client
	Securities   []Security        `json:"securities,omitempty"`
	UpdatedAt    time.Time         `json:"updatedAt"`
}

// Authenticated 是否有登录证据
// TMS 需要证券目录和至少一种 token；ATS 需要会话 cookie
func (m *Material) Authenticated(venue domain.Venue) bool {
	switch venue {
	case domain.VenueTMS:
		xsrf := m.XSRFToken
		if xsrf == "" {
			xsrf = m.Cookies["XSRF-TOKEN"]
		}
		return len(m.Securities) > 0 && (m.AccessToken != "" || xsrf != "")
	case domain.VenueATS:
		return len(m.Cookies) > 0
	}
	return false
}

// HostSessionID base64(suid)
func (m *Material) HostSessionID() string {
	if m.SUID == "" {
		return ""
	}
	return base64.StdEncoding.EncodeToString([]byte(m.SUID))
}

// HTTPCookies 转换为 http.Cookie 列表
func (m *Material) HTTPCookies() []*http.Cookie {
	out := make([]*http.Cookie, 0, len(m.Cookies))
	for k, v := range m.Cookies {
		out = append(out, &http.Cookie{Name: k, Value: v, Path: "/"})
	}
	return out
}

// Security 按代码查找证券
func (m *Material) Security(symbol string) (Security, bool) {
	for _, s := range m.Securities {
		if strings.EqualFold(s.Symbol, symbol) {
			return s, true
		}
	}
	return Security{}, false
}

// MaterialStore 会话材料存储
type MaterialStore interface {
	LoadMaterial(key string) (Material, bool, error)
	SaveMaterial(key string, m Material) error
}

const materialPrefix = "session/"

// SecretStore 基于 Badger secret store 的材料存储
type SecretStore struct {
	store *secretstore.Store
}

func NewSecretStore(store *secretstore.Store) *SecretStore {
	return &SecretStore{store: store}
}

func (s *SecretStore) LoadMaterial(key string) (Material, bool, error) {
	var m Material
	found, err := s.store.GetJSON(materialPrefix+key, &m)
	return m, found, err
}

func (s *SecretStore) SaveMaterial(key string, m Material) error {
	return s.store.SetJSON(materialPrefix+key, m)
}

// Keys 已导入会话材料的账户键
func (s *SecretStore) Keys() ([]string, error) {
	keys, err := s.store.Keys(materialPrefix)
	if err != nil {
		return nil, err
	}
	for i, k := range keys {
		keys[i] = strings.TrimPrefix(k, materialPrefix)
	}
	return keys, nil
}

// SaveCredentials 保存账户登录凭据（供外部登录流程使用）
func (s *SecretStore) SaveCredentials(accountID string, c domain.Credentials) error {
	return s.store.SetJSON("credentials/"+accountID, c)
}

// LoadMaterialFile 读取 {accountKey: Material} 格式的 JSON 文件
func LoadMaterialFile(path string) (map[string]Material, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	out := make(map[string]Material)
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("解析会话文件失败: %w", err)
	}
	return out, nil
}

// MemoryStore 内存材料存储（测试和 dry-run 使用）
type MemoryStore struct {
	mu   sync.Mutex
	data map[string]Material
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]Material)}
}

func (s *MemoryStore) LoadMaterial(key string) (Material, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.data[key]
	return m, ok, nil
}

func (s *MemoryStore) SaveMaterial(key string, m Material) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = m
	return nil
}
