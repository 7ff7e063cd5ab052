package eventwire

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTuningWithDefaults(t *testing.T) {
	d := Tuning{}.withDefaults()
	assert.Equal(t, defaultWriteTimeout, d.WriteTimeout)
	assert.Equal(t, defaultPongTimeout, d.PongTimeout)
	assert.Equal(t, int64(defaultMaxMessageSize), d.MaxMessageSize)
	assert.Equal(t, defaultSendBufSize, d.SendBufferSize)

	// Явно заданные значения не перезаписываются.
	c := Tuning{
		WriteTimeout:   2 * time.Second,
		PongTimeout:    20 * time.Second,
		MaxMessageSize: 1024,
		SendBufferSize: 8,
	}.withDefaults()
	assert.Equal(t, 2*time.Second, c.WriteTimeout)
	assert.Equal(t, 20*time.Second, c.PongTimeout)
	assert.Equal(t, int64(1024), c.MaxMessageSize)
	assert.Equal(t, 8, c.SendBufferSize)
}

func TestTuningPingPeriodBelowPongTimeout(t *testing.T) {
	for _, pong := range []time.Duration{time.Second, 20 * time.Second, defaultPongTimeout} {
		tn := Tuning{PongTimeout: pong}.withDefaults()
		assert.Less(t, tn.pingPeriod(), tn.PongTimeout)
		assert.Positive(t, tn.pingPeriod())
	}
}
