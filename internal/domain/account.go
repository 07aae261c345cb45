package domain

import (
	"strings"
	"time"
)

// Venue 交易场所类型
type Venue string

const (
	VenueTMS Venue = "tms" // NEPSE TMS（完整 order-book API，追价直到涨停）
	VenueATS Venue = "ats" // ATS web（仅报价/表单下单接口，阶梯等待）
)

// Valid 是否为已知的场所类型
func (v Venue) Valid() bool {
	return v == VenueTMS || v == VenueATS
}

// Role 账户在监控中的职责
type Role string

const (
	RolePrice Role = "price" // 仅查价
	RoleOrder Role = "order" // 仅下单
	RoleBoth  Role = "both"  // 查价 + 下单
	RoleNone  Role = "none"  // 不参与
)

// CanPrice 是否参与查价
func (r Role) CanPrice() bool { return r == RolePrice || r == RoleBoth }

// CanOrder 是否参与下单
func (r Role) CanOrder() bool { return r == RoleOrder || r == RoleBoth }

// Valid 是否为已知的职责
func (r Role) Valid() bool {
	switch r {
	case RolePrice, RoleOrder, RoleBoth, RoleNone:
		return true
	}
	return false
}

// Status 账户运行时状态
type Status string

const (
	StatusIdle        Status = "idle"
	StatusChecking    Status = "checking"
	StatusOrdering    Status = "ordering"
	StatusOrderPlaced Status = "order_placed"
	StatusOrderFailed Status = "order_failed"
	StatusError       Status = "error"
)

// Credentials 登录凭据，只写入 secret store，永远不出现在快照中
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Account 一个已认证的交易身份
type Account struct {
	ID         string `json:"id"`         // 稳定主键
	Name       string `json:"name"`       // 展示名
	AccountKey string `json:"accountKey"` // 阶梯配置分组键（同一身份可有多个会话）
	Venue      Venue  `json:"venue"`
	Role       Role   `json:"role"`
	Endpoint   string `json:"endpoint"` // 场所 origin URL
	Enabled    bool   `json:"enabled"`

	// ATS 账户下单字段
	Broker    string `json:"broker,omitempty"`
	AcntID    string `json:"acntid,omitempty"`
	ClientAcc string `json:"clientAcc,omitempty"`

	Credentials *Credentials `json:"-"`

	// 运行时状态（仅由监控循环/阶梯修改）
	Status            Status     `json:"status"`
	LastPrice         float64    `json:"lastPrice,omitempty"`
	LastCheckedAt     *time.Time `json:"lastCheckedAt,omitempty"`
	MatchedInstrument string     `json:"matchedInstrument,omitempty"`
	LastError         string     `json:"lastError,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
}

// PriceEligible 本周期是否参与查价
func (a *Account) PriceEligible() bool {
	return a.Enabled && a.Role.CanPrice()
}

// OrderEligible 本周期是否参与下单
func (a *Account) OrderEligible() bool {
	return a.Enabled && a.Role.CanOrder()
}

// Key 阶梯配置键；未设置 AccountKey 时退回 ID
func (a *Account) Key() string {
	if a.AccountKey != "" {
		return a.AccountKey
	}
	return a.ID
}

// Redacted 返回去掉凭据的副本
func (a Account) Redacted() Account {
	a.Credentials = nil
	if a.LastCheckedAt != nil {
		t := *a.LastCheckedAt
		a.LastCheckedAt = &t
	}
	return a
}

// HasATSConfig ATS 下单所需字段是否齐全
func (a *Account) HasATSConfig() bool {
	return a.Broker != "" && a.AcntID != "" && a.ClientAcc != ""
}

// DisplayName 日志用名称
func (a *Account) DisplayName() string {
	if strings.TrimSpace(a.Name) != "" {
		return a.Name
	}
	return a.ID
}
