//go:build js && wasm

package server

import (
	"net/http"

	"github.com/dvcrn/restream-bridge/internal/instance"
	"github.com/dvcrn/restream-bridge/internal/restream"
	"github.com/rs/zerolog"
)

// Feed is unavailable in js/wasm builds: Workers requests cannot be hijacked
// for a websocket upgrade.
type Feed struct {
	logger zerolog.Logger
}

func NewFeed(logger zerolog.Logger) *Feed {
	return &Feed{logger: logger}
}

func (f *Feed) Publish(*restream.Snapshot) {}

func (f *Feed) PublishStatus(instance.Status, string) {}

func (f *Feed) Clients() int { return 0 }

func (f *Feed) Close() {}

func (f *Feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.logger.Warn().Msg("Snapshot feed requested in a js/wasm build")
	http.Error(w, "websocket feed is not supported in js/wasm builds", http.StatusNotImplemented)
}
