package channel

import "strings"

// Key is the canonical store key for a channel: "spaceID/channelID".
// Server payloads sometimes carry an already fully-qualified channel id;
// Normalize folds both representations into one canonical form.
type Key string

const keySep = "/"

// Normalize builds the canonical key from a (spaceID, channelID) pair.
// channelID may already be fully qualified ("space/chan"), in which case it
// wins over spaceID. Normalizing a canonical key again yields the same key.
func Normalize(spaceID, channelID string) Key {
	channelID = strings.TrimSpace(channelID)
	spaceID = strings.TrimSpace(spaceID)
	if i := strings.Index(channelID, keySep); i >= 0 {
		// Already qualified; collapse any duplicated separators.
		space := channelID[:i]
		rest := strings.Trim(channelID[i+1:], keySep)
		return Key(space + keySep + rest)
	}
	return Key(spaceID + keySep + channelID)
}

// SpaceID returns the space part of the key.
func (k Key) SpaceID() string {
	s, _, _ := strings.Cut(string(k), keySep)
	return s
}

// ChannelID returns the channel part of the key.
func (k Key) ChannelID() string {
	_, c, _ := strings.Cut(string(k), keySep)
	return c
}

func (k Key) String() string { return string(k) }
