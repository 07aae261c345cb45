package ladder

import (
	"github.com/shopspring/decimal"
)

var (
	stepFactor    = decimal.RequireFromString("1.02") // 每档 +2%
	circuitFactor = decimal.RequireFromString("1.1")  // 涨停 +10%
	ten           = decimal.NewFromInt(10)
)

// MaxSteps 追价档位数（2%,4%,6%,8%）
const MaxSteps = 4

// Truncate1 保留一位小数（截断而非四舍五入）
// 先格式化为三位小数再去掉最后两位：254.19 -> 254.1，254.1999 -> 254.2（第三位进位后再截断）
func Truncate1(x float64) float64 {
	d := decimal.NewFromFloat(x).Round(3).Truncate(1)
	f, _ := d.Float64()
	return f
}

// StepUp 在价格上加一档 2% 并截断
func StepUp(price float64) float64 {
	return Truncate1(decimal.NewFromFloat(price).Mul(stepFactor).InexactFloat64())
}

// CircuitPrice 基准价的 +10% 涨停价（截断）
func CircuitPrice(orderPrice float64) float64 {
	return Truncate1(decimal.NewFromFloat(orderPrice).Mul(circuitFactor).InexactFloat64())
}

// EffectiveMaxQty 计算涨停委托的实际数量
// collateral==0（或没有基准价）时直接使用 maxOrderQty；否则模拟 4 档 2% 复利加价，每档扣除 orderQty*价格，
// 剩余保证金按 orderPrice*1.1 折算数量，向下取整到 10 的倍数，最小为 0
func EffectiveMaxQty(orderQty, maxOrderQty int, orderPrice, collateral float64) int {
	if collateral == 0 || orderPrice <= 0 {
		return maxOrderQty
	}

	remaining := decimal.NewFromFloat(collateral)
	price := decimal.NewFromFloat(orderPrice)
	qty := decimal.NewFromInt(int64(orderQty))
	for i := 0; i < MaxSteps; i++ {
		price = price.Mul(stepFactor)
		remaining = remaining.Sub(qty.Mul(price))
	}

	finalPrice := decimal.NewFromFloat(orderPrice).Mul(circuitFactor)
	n := remaining.Div(finalPrice).Floor()
	n = n.Div(ten).Floor().Mul(ten)
	if n.IsNegative() {
		return 0
	}
	return int(n.IntPart())
}

// Level 阶梯中的一档
type Level struct {
	Index     int     `json:"index"`
	Price     float64 `json:"price"`
	Qty       int     `json:"qty"`
	IsCircuit bool    `json:"isCircuit"`
}

// SteppedLevels 从当前价出发构建静态阶梯
// 最多 MaxSteps 档，每档 = Truncate1(上一档*1.02)，超过涨停价即停止；
// 若涨停价 >= 最后一档价格，再追加一档涨停价（数量为 maxOrderQty）
func SteppedLevels(current, circuitLimit float64, orderQty, maxOrderQty int) []Level {
	var levels []Level
	prev := current
	for i := 0; i < MaxSteps; i++ {
		target := StepUp(prev)
		if target > circuitLimit {
			break
		}
		levels = append(levels, Level{Index: len(levels), Price: target, Qty: orderQty})
		prev = target
	}
	if circuitLimit >= prev {
		levels = append(levels, Level{Index: len(levels), Price: circuitLimit, Qty: maxOrderQty, IsCircuit: true})
	}
	return levels
}
