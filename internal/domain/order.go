package domain

import "time"

// OrderStatus 单笔委托结果
type OrderStatus string

const (
	OrderStatusAccepted OrderStatus = "accepted" // 场所确认提交
	OrderStatusRejected OrderStatus = "rejected" // 场所拒绝/响应异常
)

// Order 阶梯中提交的一笔限价买单
type Order struct {
	AccountID string      `json:"accountId"`
	Symbol    string      `json:"symbol"`
	Price     float64     `json:"price"`
	Qty       int         `json:"qty"`
	IsCircuit bool        `json:"isCircuit"` // 是否为涨停价委托
	Status    OrderStatus `json:"status"`
	Detail    string      `json:"detail,omitempty"` // 场所返回的状态/描述
	PlacedAt  time.Time   `json:"placedAt"`
}

// Accepted 是否被场所确认
func (o *Order) Accepted() bool {
	return o.Status == OrderStatusAccepted
}
