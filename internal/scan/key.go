// ABOUTME: Conversation keys identifying the originator of chat commands
// ABOUTME: Keys are "<frontend>:<channel>" strings built and parsed by frontends

package scan

import "strings"

// ConversationKey identifies a conversation, e.g. "telegram:12345" or
// "matrix:!room:server.com". The core treats it as an opaque map key.
type ConversationKey string

// Key builds a conversation key from a frontend name and channel ID.
func Key(frontend, channelID string) ConversationKey {
	return ConversationKey(frontend + ":" + channelID)
}

// Frontend returns the frontend part of the key, or "" if the key has no separator.
func (k ConversationKey) Frontend() string {
	frontend, _, ok := strings.Cut(string(k), ":")
	if !ok {
		return ""
	}
	return frontend
}

// ChannelID returns everything after the first separator.
// Matrix room IDs contain colons, so only the first one splits.
func (k ConversationKey) ChannelID() string {
	_, channel, _ := strings.Cut(string(k), ":")
	return channel
}

func (k ConversationKey) String() string {
	return string(k)
}
