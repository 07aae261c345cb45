package domain

// Condition 触发条件
type Condition string

const (
	ConditionLTE Condition = "lte" // price <= target（默认）
	ConditionGTE Condition = "gte" // price >= target
)

// Instrument 全局监控标的
type Instrument struct {
	Symbol      string    `json:"symbol"`
	Enabled     bool      `json:"enabled"`
	TargetPrice float64   `json:"targetPrice"`
	Qty         int       `json:"qty"`
	Condition   Condition `json:"condition,omitempty"`
}

// Triggered 判断采样价格是否触发
// belowPrice > 0 时覆盖目标价，且固定为 price <= belowPrice
func Triggered(price, targetPrice, belowPrice float64, cond Condition) bool {
	if belowPrice > 0 {
		return price <= belowPrice
	}
	if cond == ConditionGTE {
		return price >= targetPrice
	}
	return price <= targetPrice
}

// LadderConfig 按 (accountKey, symbol) 的阶梯下单配置
// 表中存在该条目即表示“允许下单”，不存在表示跳过
type LadderConfig struct {
	OrderQty    int     `json:"orderQty"`
	MaxOrderQty int     `json:"maxOrderQty"`
	OrderPrice  float64 `json:"orderPrice"` // 基准价（触发价）
	BelowPrice  float64 `json:"belowPrice"` // 可选覆盖触发价，0 表示不用
	Collateral  float64 `json:"collateral"` // 0 表示不限制
}

// 默认阶梯配置
const (
	DefaultOrderQty    = 10
	DefaultMaxOrderQty = 100
	DefaultOrderPrice  = 254.1
)

// WithDefaults 为零值数量填充默认值
// OrderPrice 为 0 是合法值（涨停价改用证券的 DPR 上限），只有负数才回退到默认价
func (c LadderConfig) WithDefaults() LadderConfig {
	if c.OrderQty <= 0 {
		c.OrderQty = DefaultOrderQty
	}
	if c.MaxOrderQty <= 0 {
		c.MaxOrderQty = DefaultMaxOrderQty
	}
	if c.OrderPrice < 0 {
		c.OrderPrice = DefaultOrderPrice
	}
	if c.BelowPrice < 0 {
		c.BelowPrice = 0
	}
	if c.Collateral < 0 {
		c.Collateral = 0
	}
	return c
}
