package voice

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMeterLazyStartStop(t *testing.T) {
	m := NewMeter(nil)
	assert.False(t, m.Active())

	m.Attach("a")
	assert.True(t, m.Active())
	m.Attach("b")
	m.Detach("a")
	assert.True(t, m.Active())

	// Последний поток останавливает цикл целиком.
	m.Detach("b")
	assert.False(t, m.Active())
}

func TestMeterSamplesAndDecay(t *testing.T) {
	var mu sync.Mutex
	var last map[string]float64
	m := NewMeter(func(s map[string]float64) {
		mu.Lock()
		last = s
		mu.Unlock()
	})
	m.Attach("a")
	defer m.Detach("a")

	m.Push("a", 0.8)
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return last != nil && last["a"] > 0.5
	}, time.Second, 10*time.Millisecond)

	// Без новых push уровень затухает к нулю.
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return last["a"] < 0.1
	}, time.Second, 10*time.Millisecond)
}

func TestMeterPushClampsAndHolds(t *testing.T) {
	m := NewMeter(nil)
	m.Attach("a")
	defer m.Detach("a")

	m.Push("a", 1.5)
	m.Push("a", 0.2) // меньший уровень не сбивает пик до тика
	m.Push("unknown", 0.9)
}
