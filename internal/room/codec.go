package room

import (
	"fmt"
	"net/url"
	"strings"
)

// roomPrefix namespaces room identifiers derived from analysis-session ids.
const roomPrefix = "analysis:"

// EncodeRoomID maps an analysis-session id to its room identifier. The
// mapping is pure and invertible for any id, including the empty string.
func EncodeRoomID(analysisID string) string {
	return roomPrefix + url.QueryEscape(analysisID)
}

// DecodeRoomID recovers the analysis-session id from a room identifier.
func DecodeRoomID(roomID string) (string, error) {
	if !strings.HasPrefix(roomID, roomPrefix) {
		return "", fmt.Errorf("not a room identifier: %q", roomID)
	}
	id, err := url.QueryUnescape(strings.TrimPrefix(roomID, roomPrefix))
	if err != nil {
		return "", fmt.Errorf("malformed room identifier %q: %w", roomID, err)
	}
	return id, nil
}
