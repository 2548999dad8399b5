package server

import (
	"encoding/json"

	"github.com/dvcrn/restream-bridge/internal/instance"
	"github.com/dvcrn/restream-bridge/internal/restream"
)

// feedMessage is one frame on the /ws snapshot feed.
type feedMessage struct {
	Type     string             `json:"type"`
	Snapshot *restream.Snapshot `json:"snapshot,omitempty"`
	Status   *instance.Status   `json:"status,omitempty"`
	Message  string             `json:"message,omitempty"`
}

func snapshotFrame(snap *restream.Snapshot) ([]byte, error) {
	return json.Marshal(feedMessage{Type: "snapshot", Snapshot: snap})
}

func statusFrame(status instance.Status, message string) ([]byte, error) {
	return json.Marshal(feedMessage{Type: "status", Status: &status, Message: message})
}
