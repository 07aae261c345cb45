package session

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/circuitbot/internal/domain"
	"github.com/betbot/circuitbot/pkg/cache"
	sdkhttp "github.com/betbot/circuitbot/pkg/sdk/http"
)

var sessionLog = logrus.WithField("component", "session")

// Session 一个账户的已认证 HTTP 会话
type Session struct {
	AccountID string
	Key       string
	Venue     domain.Venue
	HTTP      *sdkhttp.Client

	mu       sync.RWMutex
	material Material
	store    MaterialStore
}

// Material 返回材料副本
func (s *Session) Material() Material {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m := s.material
	m.Securities = append([]Security(nil), s.material.Securities...)
	return m
}

// Authenticated 会话是否有登录证据
func (s *Session) Authenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.material.Authenticated(s.Venue)
}

// Security 按代码查找证券
func (s *Session) Security(symbol string) (Security, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.material.Security(symbol)
}

// UpdateTokens 刷新 token 后更新材料并回写存储（空值保持不变）
func (s *Session) UpdateTokens(access, refresh, xsrf string) error {
	s.mu.Lock()
	if access != "" {
		s.material.AccessToken = access
	}
	if refresh != "" {
		s.material.RefreshToken = refresh
	}
	if xsrf != "" {
		s.material.XSRFToken = xsrf
	}
	s.material.UpdatedAt = time.Now()
	m := s.material
	store := s.store
	s.mu.Unlock()

	if store == nil {
		return nil
	}
	return store.SaveMaterial(s.Key, m)
}

// New 用材料构造会话（测试和导入工具也会直接使用）
func New(account domain.Account, m Material, store MaterialStore, opts sdkhttp.Options) *Session {
	opts.Cookies = append(opts.Cookies, m.HTTPCookies()...)
	return &Session{
		AccountID: account.ID,
		Key:       account.Key(),
		Venue:     account.Venue,
		HTTP:      sdkhttp.NewClient(account.Endpoint, opts),
		material:  m,
		store:     store,
	}
}

// Provider 会话提供者
type Provider interface {
	Session(ctx context.Context, account domain.Account) (*Session, error)
	Close() error
}

// Manager 从 MaterialStore 加载会话并按 TTL 缓存
// TTL 到期后重新读取存储，使运行中导入的新材料生效
type Manager struct {
	store    MaterialStore
	httpOpts sdkhttp.Options
	sessions *cache.InMemoryCache[string, *Session]
}

// NewManager 创建会话管理器
func NewManager(store MaterialStore, ttl time.Duration, opts sdkhttp.Options) *Manager {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Manager{
		store:    store,
		httpOpts: opts,
		sessions: cache.NewInMemoryCache[string, *Session](ttl),
	}
}

func cacheKey(a domain.Account) string {
	return a.ID + "|" + a.Endpoint
}

// Session 获取账户会话；没有材料时返回未认证的会话（由查价方报告 NotAuthenticated）
func (m *Manager) Session(ctx context.Context, account domain.Account) (*Session, error) {
	return m.sessions.GetOrLoad(cacheKey(account), func() (*Session, error) {
		mat, found, err := m.store.LoadMaterial(account.Key())
		if err != nil {
			return nil, err
		}
		if !found {
			sessionLog.Debugf("账户 %s 没有导入的会话材料", account.ID)
		}
		return New(account, mat, m.store, m.httpOpts), nil
	})
}

// Warm 预先打开所有账户的会话，返回已认证的数量
func (m *Manager) Warm(ctx context.Context, accounts []domain.Account) int {
	authed := 0
	for _, a := range accounts {
		if ctx.Err() != nil {
			break
		}
		s, err := m.Session(ctx, a)
		if err != nil {
			sessionLog.Warnf("⚠️ 打开会话失败 %s: %v", a.DisplayName(), err)
			continue
		}
		if s.Authenticated() {
			authed++
		} else {
			sessionLog.Warnf("⚠️ %s 未登录（需要导入会话材料）", a.DisplayName())
		}
	}
	return authed
}

// Invalidate 丢弃某账户的缓存会话
func (m *Manager) Invalidate(account domain.Account) {
	m.sessions.Delete(cacheKey(account))
}

// Close 释放所有已打开的会话；之后再次调用 Session 会重新加载
func (m *Manager) Close() error {
	n := m.sessions.Size()
	m.sessions.Clear()
	sessionLog.Infof("已关闭 %d 个会话", n)
	return nil
}

// Stop 停止缓存的后台清理（进程退出时调用）
func (m *Manager) Stop() {
	m.sessions.Stop()
}
