package sshmgr

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewManager_StoresPoolJobsAndBudget(t *testing.T) {
	pool := NewPool(nil)
	m := NewManager(pool, nil, 10*time.Second)
	assert.Same(t, pool, m.pool)
	assert.Equal(t, 10*time.Second, m.budget)
}

func TestDefaultBudget_FallsBackTo55SecondsWhenNonPositive(t *testing.T) {
	m := NewManager(NewPool(nil), nil, 0)
	assert.Equal(t, 55*time.Second, m.defaultBudget())

	m2 := NewManager(NewPool(nil), nil, -1*time.Second)
	assert.Equal(t, 55*time.Second, m2.defaultBudget())
}

func TestDefaultBudget_UsesConfiguredBudgetWhenPositive(t *testing.T) {
	m := NewManager(NewPool(nil), nil, 3*time.Second)
	assert.Equal(t, 3*time.Second, m.defaultBudget())
}
