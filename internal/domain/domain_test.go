package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRoleEligibility(t *testing.T) {
	cases := []struct {
		role           Role
		enabled        bool
		price, ordered bool
	}{
		{RolePrice, true, true, false},
		{RoleOrder, true, false, true},
		{RoleBoth, true, true, true},
		{RoleNone, true, false, false},
		{RoleBoth, false, false, false},
	}
	for _, tc := range cases {
		a := Account{Role: tc.role, Enabled: tc.enabled}
		assert.Equal(t, tc.price, a.PriceEligible(), "%s/%v price", tc.role, tc.enabled)
		assert.Equal(t, tc.ordered, a.OrderEligible(), "%s/%v order", tc.role, tc.enabled)
	}
}

func TestAccount_RedactedStripsCredentials(t *testing.T) {
	now := time.Now()
	a := Account{ID: "tms17", Credentials: &Credentials{Username: "u", Password: "p"}, LastCheckedAt: &now}
	r := a.Redacted()
	assert.Nil(t, r.Credentials)
	assert.NotNil(t, a.Credentials)
	// 深拷贝时间指针，修改副本不影响原记录
	*r.LastCheckedAt = now.Add(time.Hour)
	assert.Equal(t, now, *a.LastCheckedAt)
}

func TestAccount_Key(t *testing.T) {
	assert.Equal(t, "id", (&Account{ID: "id"}).Key())
	assert.Equal(t, "k", (&Account{ID: "id", AccountKey: "k"}).Key())
}

func TestTriggered(t *testing.T) {
	assert.True(t, Triggered(268.0, 269.4, 0, ConditionLTE))
	assert.False(t, Triggered(270.0, 269.4, 0, ""))
	assert.True(t, Triggered(270.0, 269.4, 0, ConditionGTE))
	// belowPrice 覆盖目标价
	assert.False(t, Triggered(268.0, 269.4, 260, ConditionLTE))
	assert.True(t, Triggered(259.9, 269.4, 260, ConditionGTE))
}

func TestLadderConfig_WithDefaults(t *testing.T) {
	c := LadderConfig{}.WithDefaults()
	assert.Equal(t, LadderConfig{OrderQty: 10, MaxOrderQty: 100}, c)

	c = LadderConfig{OrderPrice: -1, Collateral: -5, BelowPrice: -2}.WithDefaults()
	assert.Equal(t, DefaultOrderPrice, c.OrderPrice)
	assert.Zero(t, c.Collateral)
	assert.Zero(t, c.BelowPrice)

	c = LadderConfig{OrderQty: 20, MaxOrderQty: 500, OrderPrice: 432, Collateral: 500000}.WithDefaults()
	assert.Equal(t, 20, c.OrderQty)
	assert.Equal(t, 432.0, c.OrderPrice)
}
