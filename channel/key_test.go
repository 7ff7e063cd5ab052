package channel

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	assert.Equal(t, Key("s1/general"), Normalize("s1", "general"))

	// Полностью квалифицированный channel id выигрывает у spaceID.
	assert.Equal(t, Key("s2/general"), Normalize("s1", "s2/general"))

	// Лишние разделители схлопываются.
	assert.Equal(t, Key("s1/general"), Normalize("", "s1//general"))

	assert.Equal(t, Key("s1/general"), Normalize(" s1 ", " general "))
}

func TestNormalizeIdempotent(t *testing.T) {
	k := Normalize("s1", "general")
	assert.Equal(t, k, Normalize(k.SpaceID(), k.ChannelID()))
	assert.Equal(t, k, Normalize("", string(k)))
	assert.Equal(t, k, Normalize("other", string(k)))
}

func TestKeyParts(t *testing.T) {
	k := Normalize("s1", "random")
	assert.Equal(t, "s1", k.SpaceID())
	assert.Equal(t, "random", k.ChannelID())
	assert.Equal(t, "s1/random", k.String())
}
