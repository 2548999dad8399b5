package restream

import "time"

// CustomRTMPPlatformID identifies custom RTMP ingest channels, which have no
// channel metadata.
const CustomRTMPPlatformID = 29

// Platform is a streaming platform known to Restream.
type Platform struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Meta is the platform-dependent channel metadata (title, description, ...).
type Meta map[string]any

// Channel is one destination configured on the Restream account.
type Channel struct {
	ID                  int64  `json:"id"`
	StreamingPlatformID int64  `json:"streamingPlatformId"`
	DisplayName         string `json:"displayName"`
	Enabled             bool   `json:"enabled"`
	Meta                Meta   `json:"meta,omitempty"`
}

// IsCustomRTMP reports whether the channel is a custom RTMP ingest.
func (c Channel) IsCustomRTMP() bool {
	return c.StreamingPlatformID == CustomRTMPPlatformID
}

// Profile is the authenticated user, used as an authentication probe.
type Profile struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// Snapshot is the complete remote state captured by one poll cycle. A new
// snapshot replaces the previous one wholesale.
type Snapshot struct {
	Platforms []Platform `json:"platforms"`
	Channels  []Channel  `json:"channels"`
	TakenAt   time.Time  `json:"takenAt"`
}

// Platform returns the platform with the given id.
func (s *Snapshot) Platform(id int64) (Platform, bool) {
	for _, p := range s.Platforms {
		if p.ID == id {
			return p, true
		}
	}
	return Platform{}, false
}

// Channel returns the channel with the given id.
func (s *Snapshot) Channel(id int64) (Channel, bool) {
	for _, c := range s.Channels {
		if c.ID == id {
			return c, true
		}
	}
	return Channel{}, false
}
