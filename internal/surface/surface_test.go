package surface

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/dvcrn/restream-bridge/internal/credentials"
	"github.com/dvcrn/restream-bridge/internal/instance"
	"github.com/dvcrn/restream-bridge/internal/restream"
	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	mu      sync.Mutex
	active  map[int64]bool
	titles  map[int64]string
	key     string
	failing error
}

func (f *fakeAPI) SetChannelActive(_ context.Context, id int64, active bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing != nil {
		return f.failing
	}
	f.active[id] = active
	return nil
}

func (f *fakeAPI) SetChannelTitle(_ context.Context, id int64, title string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing != nil {
		return f.failing
	}
	f.titles[id] = title
	return nil
}

func (f *fakeAPI) StreamKey(context.Context) (string, error) {
	return f.key, f.failing
}

type countingTrigger struct {
	mu    sync.Mutex
	polls int
}

func (c *countingTrigger) PollAsync(context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.polls++
}

func (c *countingTrigger) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.polls
}

func testSnapshot() *restream.Snapshot {
	return &restream.Snapshot{
		Platforms: []restream.Platform{{ID: 1, Name: "Twitch"}, {ID: 5, Name: "YouTube"}},
		Channels: []restream.Channel{
			{ID: 10, StreamingPlatformID: 1, DisplayName: "main", Enabled: true, Meta: restream.Meta{"title": "Live!", "description": "desc"}},
			{ID: 20, StreamingPlatformID: 5, DisplayName: "yt", Enabled: false, Meta: restream.Meta{"title": "Other"}},
			{ID: 30, StreamingPlatformID: 29, DisplayName: "rtmp"},
		},
	}
}

func newSurface() (*Surface, *fakeAPI, *countingTrigger, *instance.Instance) {
	api := &fakeAPI{active: map[int64]bool{}, titles: map[int64]string{}, key: "live_123"}
	trigger := &countingTrigger{}
	inst := instance.New(credentials.Credentials{}, credentials.NewMemoryStore(), zerolog.Nop())
	return New(api, trigger, inst, zerolog.Nop()), api, trigger, inst
}

func TestSurfaceBeforeFirstSnapshot(t *testing.T) {
	s, _, _, _ := newSurface()

	assert.Nil(t, s.Snapshot())
	assert.Nil(t, s.ChannelChoices())
	_, ok := s.ChannelEnabled(10)
	assert.False(t, ok)
	assert.Empty(t, s.VariableDefinitions())
}

func TestSurfaceChannelChoices(t *testing.T) {
	s, _, _, _ := newSurface()
	s.Publish(testSnapshot())

	want := []Choice{
		{ID: "10", Label: "Twitch (main)"},
		{ID: "20", Label: "YouTube (yt)"},
		{ID: "30", Label: "Unknown (rtmp)"},
	}
	if diff := cmp.Diff(want, s.ChannelChoices()); diff != "" {
		t.Errorf("ChannelChoices() mismatch (-want +got):\n%s", diff)
	}
}

func TestSurfaceChannelEnabled(t *testing.T) {
	s, _, _, _ := newSurface()
	s.Publish(testSnapshot())

	enabled, ok := s.ChannelEnabled(10)
	assert.True(t, ok)
	assert.True(t, enabled)

	enabled, ok = s.ChannelEnabled(20)
	assert.True(t, ok)
	assert.False(t, enabled)

	_, ok = s.ChannelEnabled(99)
	assert.False(t, ok)
}

func TestSurfaceVariables(t *testing.T) {
	s, _, _, _ := newSurface()
	s.Publish(testSnapshot())

	wantDefs := []VariableDefinition{
		{VariableID: "channel_10_description", Name: "Twitch (main) description"},
		{VariableID: "channel_10_title", Name: "Twitch (main) title"},
		{VariableID: "channel_20_title", Name: "YouTube (yt) title"},
	}
	if diff := cmp.Diff(wantDefs, s.VariableDefinitions()); diff != "" {
		t.Errorf("VariableDefinitions() mismatch (-want +got):\n%s", diff)
	}

	wantValues := map[string]any{
		"channel_10_description": "desc",
		"channel_10_title":       "Live!",
		"channel_20_title":       "Other",
	}
	if diff := cmp.Diff(wantValues, s.VariableValues()); diff != "" {
		t.Errorf("VariableValues() mismatch (-want +got):\n%s", diff)
	}
}

func TestSurfaceVariablesFrozenOnBadConfig(t *testing.T) {
	s, _, _, inst := newSurface()
	s.Publish(testSnapshot())
	require.Len(t, s.VariableDefinitions(), 3)

	inst.UpdateStatus(instance.StatusBadConfig, "Refresh Token Expired")
	s.Publish(&restream.Snapshot{})

	assert.Len(t, s.VariableDefinitions(), 3)
	assert.Empty(t, s.Snapshot().Channels, "snapshot is still replaced")
}

func TestSurfaceChangeChannelStateTriggersPoll(t *testing.T) {
	s, api, trigger, _ := newSurface()

	require.NoError(t, s.ChangeChannelState(context.Background(), 10, false))
	assert.Equal(t, map[int64]bool{10: false}, api.active)
	assert.Equal(t, 1, trigger.count())
}

func TestSurfaceChangeChannelStateFailure(t *testing.T) {
	s, api, trigger, _ := newSurface()
	api.failing = &restream.APIError{Method: "PATCH", Path: "/user/channel/10", StatusCode: 500}

	err := s.ChangeChannelState(context.Background(), 10, true)
	var apiErr *restream.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 500, apiErr.StatusCode)
	assert.Zero(t, trigger.count())
}

func TestSurfaceSetChannelTitleAndStreamKey(t *testing.T) {
	s, api, _, _ := newSurface()

	require.NoError(t, s.SetChannelTitle(context.Background(), 20, "New title"))
	assert.Equal(t, "New title", api.titles[20])

	key, err := s.StreamKey(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "live_123", key)

	api.failing = errors.New("down")
	_, err = s.StreamKey(context.Background())
	assert.Error(t, err)
}
