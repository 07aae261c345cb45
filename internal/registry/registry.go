package registry

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/betbot/circuitbot/internal/domain"
	"github.com/betbot/circuitbot/internal/events"
	"github.com/betbot/circuitbot/internal/metrics"
	"github.com/betbot/circuitbot/pkg/persistence"
	"github.com/betbot/circuitbot/pkg/sigchan"
)

var regLog = logrus.WithField("component", "registry")

var ErrNotFound = errors.New("account not found")

// CredentialStore 凭据写入方（secret store）
type CredentialStore interface {
	SaveCredentials(accountID string, c domain.Credentials) error
}

// Snapshot 持久化的注册表快照
type Snapshot struct {
	Accounts    []domain.Account                          `json:"accounts"`
	Instruments []domain.Instrument                       `json:"instruments"`
	Ladders     map[string]map[string]domain.LadderConfig `json:"ladders"`
	SavedAt     time.Time                                 `json:"savedAt"`
}

// Options 注册表依赖
type Options struct {
	Store       persistence.Store
	Credentials CredentialStore
	Sink        events.Sink
}

// Registry 账户、标的和阶梯配置的唯一数据源
// 每次修改都同步写快照；写失败只记日志，不影响修改本身
type Registry struct {
	mu          sync.RWMutex
	accounts    []domain.Account
	instruments []domain.Instrument
	ladders     map[string]map[string]domain.LadderConfig

	store   persistence.Store
	creds   CredentialStore
	sink    events.Sink
	changed *sigchan.Chan
	now     func() time.Time
	dirty   bool // 有未写入快照的运行时变更
}

func New(opts Options) *Registry {
	sink := opts.Sink
	if sink == nil {
		sink = events.Nop{}
	}
	return &Registry{
		ladders: make(map[string]map[string]domain.LadderConfig),
		store:   opts.Store,
		creds:   opts.Credentials,
		sink:    sink,
		changed: sigchan.New(1),
		now:     time.Now,
	}
}

// SetSink 替换事件接收方（启动时 Hub 晚于注册表创建）
func (r *Registry) SetSink(s events.Sink) {
	if s == nil {
		s = events.Nop{}
	}
	r.mu.Lock()
	r.sink = s
	r.mu.Unlock()
}

// Changed 管理操作修改注册表时发出信号（运行时状态变化不发）
func (r *Registry) Changed() *sigchan.Chan { return r.changed }

// persistLocked 写快照，调用方持有写锁
func (r *Registry) persistLocked() error {
	if r.store == nil {
		r.dirty = false
		return nil
	}
	snap := Snapshot{
		Accounts:    make([]domain.Account, len(r.accounts)),
		Instruments: append([]domain.Instrument(nil), r.instruments...),
		Ladders:     copyLadders(r.ladders),
		SavedAt:     r.now(),
	}
	for i, a := range r.accounts {
		snap.Accounts[i] = a.Redacted()
	}
	if err := r.store.Save(&snap); err != nil {
		metrics.SnapshotErrors.Add(1)
		regLog.Errorf("❌ 保存注册表快照失败: %v", err)
		return err
	}
	metrics.SnapshotSaves.Add(1)
	r.dirty = false
	return nil
}

// Flush 把尚未落盘的运行时变更写入快照，没有变更时不写
func (r *Registry) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.dirty {
		return nil
	}
	return r.persistLocked()
}

// adminChangedLocked 管理操作的统一收尾，调用方持有写锁
func (r *Registry) adminChangedLocked(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	regLog.Info(msg)
	_ = r.persistLocked()
	r.sink.OnLog(msg, events.LevelInfo)
	r.changed.Emit()
}

func (r *Registry) indexLocked(id string) int {
	for i := range r.accounts {
		if r.accounts[i].ID == id {
			return i
		}
	}
	return -1
}

func validate(a *domain.Account) error {
	if !a.Venue.Valid() {
		return fmt.Errorf("invalid venue %q", a.Venue)
	}
	if !a.Role.Valid() {
		return fmt.Errorf("invalid role %q", a.Role)
	}
	if strings.TrimSpace(a.Endpoint) == "" {
		return errors.New("endpoint is required")
	}
	return nil
}

// Upsert 按 ID 新增或更新账户；新账户没有 ID 时生成 uuid
// 运行时状态字段保持原值，凭据写入 secret store 后从内存清除
func (r *Registry) Upsert(a domain.Account) (domain.Account, error) {
	if a.Role == "" {
		a.Role = domain.RoleBoth
	}
	if err := validate(&a); err != nil {
		return domain.Account{}, err
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Credentials != nil {
		if r.creds == nil {
			return domain.Account{}, errors.New("no credential store configured")
		}
		if err := r.creds.SaveCredentials(a.ID, *a.Credentials); err != nil {
			return domain.Account{}, fmt.Errorf("save credentials: %w", err)
		}
		a.Credentials = nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if i := r.indexLocked(a.ID); i >= 0 {
		old := r.accounts[i]
		a.Status = old.Status
		a.LastPrice = old.LastPrice
		a.LastCheckedAt = old.LastCheckedAt
		a.MatchedInstrument = old.MatchedInstrument
		a.LastError = old.LastError
		a.CreatedAt = old.CreatedAt
		r.accounts[i] = a
		r.adminChangedLocked("✏️ 更新账户 %s", a.DisplayName())
	} else {
		if a.Status == "" {
			a.Status = domain.StatusIdle
		}
		if a.CreatedAt.IsZero() {
			a.CreatedAt = r.now()
		}
		r.accounts = append(r.accounts, a)
		r.adminChangedLocked("➕ 新增账户 %s (%s/%s)", a.DisplayName(), a.Venue, a.Role)
	}
	return a.Redacted(), nil
}

// Remove 删除账户
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.indexLocked(id)
	if i < 0 {
		return ErrNotFound
	}
	r.accounts = append(r.accounts[:i], r.accounts[i+1:]...)
	r.adminChangedLocked("🗑️ 删除账户 %s", id)
	return nil
}

// List 按插入顺序返回所有账户（已脱敏）
func (r *Registry) List() []domain.Account {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Account, len(r.accounts))
	for i, a := range r.accounts {
		out[i] = a.Redacted()
	}
	return out
}

func (r *Registry) Get(id string) (domain.Account, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if i := r.indexLocked(id); i >= 0 {
		return r.accounts[i].Redacted(), true
	}
	return domain.Account{}, false
}

// Instruments 全局标的目录（有序）
func (r *Registry) Instruments() []domain.Instrument {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]domain.Instrument(nil), r.instruments...)
}

// EnabledInstruments 启用的标的，保持目录顺序
func (r *Registry) EnabledInstruments() []domain.Instrument {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.Instrument
	for _, in := range r.instruments {
		if in.Enabled {
			out = append(out, in)
		}
	}
	return out
}

// SetInstruments 替换标的目录
func (r *Registry) SetInstruments(list []domain.Instrument) error {
	seen := make(map[string]bool, len(list))
	clean := make([]domain.Instrument, 0, len(list))
	for _, in := range list {
		in.Symbol = strings.ToUpper(strings.TrimSpace(in.Symbol))
		if in.Symbol == "" {
			return errors.New("instrument symbol is required")
		}
		if seen[in.Symbol] {
			return fmt.Errorf("duplicate instrument %s", in.Symbol)
		}
		seen[in.Symbol] = true
		switch in.Condition {
		case "":
			in.Condition = domain.ConditionLTE
		case domain.ConditionLTE, domain.ConditionGTE:
		default:
			return fmt.Errorf("invalid condition %q for %s", in.Condition, in.Symbol)
		}
		clean = append(clean, in)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.instruments = clean
	r.adminChangedLocked("📋 标的目录更新: %d 个", len(clean))
	return nil
}

// LadderConfig 查询 (accountKey, symbol) 的阶梯配置；不存在表示不下单
func (r *Registry) LadderConfig(accountKey, symbol string) (domain.LadderConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.ladders[accountKey][symbol]
	return cfg, ok
}

// SetLadderConfig 新增或替换一条阶梯配置（零值字段取默认值）
func (r *Registry) SetLadderConfig(accountKey, symbol string, cfg domain.LadderConfig) error {
	accountKey = strings.TrimSpace(accountKey)
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if accountKey == "" || symbol == "" {
		return errors.New("accountKey and symbol are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ladders[accountKey] == nil {
		r.ladders[accountKey] = make(map[string]domain.LadderConfig)
	}
	r.ladders[accountKey][symbol] = cfg.WithDefaults()
	r.adminChangedLocked("⚙️ 阶梯配置 %s/%s 已更新", accountKey, symbol)
	return nil
}

// RemoveLadderConfig 删除一条阶梯配置，返回是否存在
func (r *Registry) RemoveLadderConfig(accountKey, symbol string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	byKey, ok := r.ladders[accountKey]
	if !ok {
		return false
	}
	if _, ok := byKey[symbol]; !ok {
		return false
	}
	delete(byKey, symbol)
	if len(byKey) == 0 {
		delete(r.ladders, accountKey)
	}
	r.adminChangedLocked("🗑️ 删除阶梯配置 %s/%s", accountKey, symbol)
	return true
}

// ReplaceLadderConfigs 整体替换阶梯配置表
func (r *Registry) ReplaceLadderConfigs(all map[string]map[string]domain.LadderConfig) {
	next := make(map[string]map[string]domain.LadderConfig, len(all))
	for key, bySym := range all {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		for sym, cfg := range bySym {
			sym = strings.ToUpper(strings.TrimSpace(sym))
			if sym == "" {
				continue
			}
			if next[key] == nil {
				next[key] = make(map[string]domain.LadderConfig)
			}
			next[key][sym] = cfg.WithDefaults()
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ladders = next
	r.adminChangedLocked("📋 阶梯配置整体替换: %d 个账户", len(next))
}

// LadderConfigs 阶梯配置表副本
func (r *Registry) LadderConfigs() map[string]map[string]domain.LadderConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return copyLadders(r.ladders)
}

// IsSymbolEnabled 账户是否允许对该标的下单
func (r *Registry) IsSymbolEnabled(accountKey, symbol string) bool {
	_, ok := r.LadderConfig(accountKey, symbol)
	return ok
}

// EnabledSymbols 账户允许下单的标的（排序）
func (r *Registry) EnabledSymbols(accountKey string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.ladders[accountKey]))
	for sym := range r.ladders[accountKey] {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

var tmsKeyRe = regexp.MustCompile(`^tms(\d+)$`)

// SyncFromLadderConfigs 为阶梯配置中 tmsNN 形式、但还没有账户的键自动创建下单账户
func (r *Registry) SyncFromLadderConfigs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys := make([]string, 0, len(r.ladders))
	for k := range r.ladders {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var added []string
	for _, key := range keys {
		m := tmsKeyRe.FindStringSubmatch(key)
		if m == nil || r.hasKeyLocked(key) {
			continue
		}
		a := domain.Account{
			ID:         key,
			Name:       "TMS " + m[1],
			AccountKey: key,
			Venue:      domain.VenueTMS,
			Role:       domain.RoleOrder,
			Endpoint:   fmt.Sprintf("https://tms%s.nepsetms.com.np/", m[1]),
			Enabled:    true,
			Status:     domain.StatusIdle,
			CreatedAt:  r.now(),
		}
		if r.indexLocked(a.ID) >= 0 {
			continue
		}
		r.accounts = append(r.accounts, a)
		added = append(added, a.ID)
	}
	if len(added) > 0 {
		r.adminChangedLocked("➕ 根据阶梯配置自动创建账户: %s", strings.Join(added, ", "))
	}
	return added
}

func (r *Registry) hasKeyLocked(key string) bool {
	for i := range r.accounts {
		if r.accounts[i].Key() == key {
			return true
		}
	}
	return false
}

func copyLadders(in map[string]map[string]domain.LadderConfig) map[string]map[string]domain.LadderConfig {
	out := make(map[string]map[string]domain.LadderConfig, len(in))
	for k, bySym := range in {
		m := make(map[string]domain.LadderConfig, len(bySym))
		for s, c := range bySym {
			m[s] = c
		}
		out[k] = m
	}
	return out
}
