package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// SetLevel из конфига переопределяет уровень, взятый из окружения.
func TestSetLevel(t *testing.T) {
	t.Cleanup(func() { logLevel = levelInfo })

	SetLevel("debug")
	assert.Equal(t, levelDebug, logLevel)
	SetLevel("trace")
	assert.Equal(t, levelDebug, logLevel)
	SetLevel("info")
	assert.Equal(t, levelInfo, logLevel)
	SetLevel("")
	assert.Equal(t, levelInfo, logLevel)
}
