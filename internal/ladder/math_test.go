package ladder

import (
	"math"
	"testing"
	"testing/quick"

	"github.com/stretchr/testify/assert"
)

func TestTruncate1_KnownValues(t *testing.T) {
	cases := []struct {
		in, want float64
	}{
		{254.19, 254.1},
		{254.1, 254.1},
		{105.06, 105.0},
		{110.0, 110.0},
		{279.51, 279.5},
		{0, 0},
		{475.2, 475.2},
		// 先保留三位小数（第三位进位）再截断
		{254.1999, 254.2},
	}
	for _, tc := range cases {
		assert.Equalf(t, tc.want, Truncate1(tc.in), "Truncate1(%v)", tc.in)
	}
}

// 对 x>=0，Truncate1(x) 与 floor(x*10)/10 一致（容差内），且从不向上取整
func TestTruncate1_NeverRoundsUp(t *testing.T) {
	f := func(raw uint32) bool {
		// 构造两位小数的价格，避免“第三位进位”的边界
		x := float64(raw%10_000_000) / 100
		got := Truncate1(x)
		want := math.Floor(x*10+1e-9) / 10
		return math.Abs(got-want) < 1e-9 && got <= x+1e-9
	}
	if err := quick.Check(f, &quick.Config{MaxCount: 2000}); err != nil {
		t.Fatalf("truncate property failed: %v", err)
	}
}

func TestCircuitPrice(t *testing.T) {
	assert.Equal(t, 110.0, CircuitPrice(100))
	assert.Equal(t, 279.5, CircuitPrice(254.1)) // 279.51 -> 279.5
	assert.Equal(t, 475.2, CircuitPrice(432))
}

func TestStepUp(t *testing.T) {
	assert.Equal(t, 102.0, StepUp(100))
	assert.Equal(t, 105.0, StepUp(103))
	assert.Equal(t, 108.1, StepUp(106))
}

func TestEffectiveMaxQty_NoCollateral(t *testing.T) {
	assert.Equal(t, 100, EffectiveMaxQty(10, 100, 432.0, 0))
	assert.Equal(t, 7, EffectiveMaxQty(10, 7, 254.1, 0))
}

// 手算：432 -> 440.64 -> 449.4528 -> 458.441856 -> 467.61069312
// 剩余 500000-4406.4-4494.528-4584.41856-4676.1069312 = 481838.5465088
// 481838.5465088 / 475.2 = 1013.97... -> 1013 -> 1010
func TestEffectiveMaxQty_CollateralFixture(t *testing.T) {
	assert.Equal(t, 1010, EffectiveMaxQty(10, 100, 432.0, 500000))
}

func TestEffectiveMaxQty_FloorsAtZero(t *testing.T) {
	assert.Equal(t, 0, EffectiveMaxQty(10, 100, 432.0, 1000))
}

func TestSteppedLevels(t *testing.T) {
	levels := SteppedLevels(100, 110, 10, 200)
	// 102.0, 104.0, 106.0, 108.1, 然后追加涨停 110
	want := []Level{
		{Index: 0, Price: 102.0, Qty: 10},
		{Index: 1, Price: 104.0, Qty: 10},
		{Index: 2, Price: 106.0, Qty: 10},
		{Index: 3, Price: 108.1, Qty: 10},
		{Index: 4, Price: 110.0, Qty: 200, IsCircuit: true},
	}
	assert.Equal(t, want, levels)
}

func TestSteppedLevels_CappedByCircuit(t *testing.T) {
	levels := SteppedLevels(107, 110, 10, 200)
	// 109.1 <= 110，111.2 > 110 停止，再追加涨停
	assert.Equal(t, []Level{
		{Index: 0, Price: 109.1, Qty: 10},
		{Index: 1, Price: 110.0, Qty: 200, IsCircuit: true},
	}, levels)
}

func TestSteppedLevels_Empty(t *testing.T) {
	// 当前价已超过涨停价
	assert.Empty(t, SteppedLevels(120, 110, 10, 200))
}
