// Package surface exposes the polled Restream state to a control surface as
// actions, feedbacks and variables.
package surface

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/dvcrn/restream-bridge/internal/instance"
	"github.com/dvcrn/restream-bridge/internal/restream"
	"github.com/rs/zerolog"
)

// API is the subset of the Restream client the actions write through.
type API interface {
	SetChannelActive(ctx context.Context, channelID int64, active bool) error
	SetChannelTitle(ctx context.Context, channelID int64, title string) error
	StreamKey(ctx context.Context) (string, error)
}

// Trigger starts a poll cycle without waiting for it.
type Trigger interface {
	PollAsync(ctx context.Context)
}

// Choice is one dropdown entry.
type Choice struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// VariableDefinition names one exposed variable.
type VariableDefinition struct {
	VariableID string `json:"variableId"`
	Name       string `json:"name"`
}

// Variables is the set of definitions together with their current values.
type Variables struct {
	Definitions []VariableDefinition `json:"definitions"`
	Values      map[string]any       `json:"values"`
}

// Surface holds the latest snapshot and derives the control surface from it.
type Surface struct {
	api     API
	trigger Trigger
	inst    *instance.Instance
	logger  zerolog.Logger

	snap atomic.Pointer[restream.Snapshot]

	mu        sync.RWMutex
	variables Variables
}

func New(api API, trigger Trigger, inst *instance.Instance, logger zerolog.Logger) *Surface {
	return &Surface{
		api:       api,
		trigger:   trigger,
		inst:      inst,
		logger:    logger,
		variables: Variables{Values: map[string]any{}},
	}
}

// Publish stores a new snapshot. Variable definitions are only rebuilt while
// the configuration is usable.
func (s *Surface) Publish(snap *restream.Snapshot) {
	s.snap.Store(snap)

	if status, _ := s.inst.Status(); status == instance.StatusBadConfig {
		return
	}
	vars := buildVariables(snap)

	s.mu.Lock()
	s.variables = vars
	s.mu.Unlock()

	s.logger.Debug().
		Int("channels", len(snap.Channels)).
		Int("variables", len(vars.Definitions)).
		Msg("Updated surface from snapshot")
}

// Snapshot returns the latest published snapshot, or nil before the first poll.
func (s *Surface) Snapshot() *restream.Snapshot {
	return s.snap.Load()
}

// ChangeChannelState enables or disables a channel, then polls so feedbacks
// reflect the new state.
func (s *Surface) ChangeChannelState(ctx context.Context, channelID int64, enabled bool) error {
	s.logger.Info().Int64("channel_id", channelID).Bool("enabled", enabled).Msg("Setting channel state")
	if err := s.api.SetChannelActive(ctx, channelID, enabled); err != nil {
		return fmt.Errorf("setting channel %d state: %w", channelID, err)
	}
	if s.trigger != nil {
		s.trigger.PollAsync(ctx)
	}
	return nil
}

// SetChannelTitle changes the stream title of a channel.
func (s *Surface) SetChannelTitle(ctx context.Context, channelID int64, title string) error {
	s.logger.Info().Int64("channel_id", channelID).Str("title", title).Msg("Setting channel title")
	if err := s.api.SetChannelTitle(ctx, channelID, title); err != nil {
		return fmt.Errorf("setting channel %d title: %w", channelID, err)
	}
	return nil
}

// StreamKey returns the account's stream key.
func (s *Surface) StreamKey(ctx context.Context) (string, error) {
	key, err := s.api.StreamKey(ctx)
	if err != nil {
		return "", fmt.Errorf("getting stream key: %w", err)
	}
	return key, nil
}

// ChannelEnabled is the channel state feedback. ok is false when the channel
// is not in the latest snapshot.
func (s *Surface) ChannelEnabled(channelID int64) (enabled, ok bool) {
	snap := s.snap.Load()
	if snap == nil {
		return false, false
	}
	ch, found := snap.Channel(channelID)
	if !found {
		return false, false
	}
	return ch.Enabled, true
}

// ChannelChoices lists the channels for a dropdown, labelled
// "<platform> (<display name>)".
func (s *Surface) ChannelChoices() []Choice {
	snap := s.snap.Load()
	if snap == nil {
		return nil
	}
	choices := make([]Choice, 0, len(snap.Channels))
	for _, ch := range snap.Channels {
		choices = append(choices, Choice{
			ID:    strconv.FormatInt(ch.ID, 10),
			Label: channelLabel(snap, ch),
		})
	}
	return choices
}

// Variables returns the current variable definitions and values.
func (s *Surface) Variables() Variables {
	s.mu.RLock()
	defer s.mu.RUnlock()
	values := make(map[string]any, len(s.variables.Values))
	for k, v := range s.variables.Values {
		values[k] = v
	}
	return Variables{
		Definitions: append([]VariableDefinition(nil), s.variables.Definitions...),
		Values:      values,
	}
}

// VariableDefinitions returns the current variable definitions.
func (s *Surface) VariableDefinitions() []VariableDefinition {
	return s.Variables().Definitions
}

// VariableValues returns the current variable values keyed by variable id.
func (s *Surface) VariableValues() map[string]any {
	return s.Variables().Values
}

func buildVariables(snap *restream.Snapshot) Variables {
	vars := Variables{Values: map[string]any{}}
	for _, ch := range snap.Channels {
		keys := make([]string, 0, len(ch.Meta))
		for k := range ch.Meta {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		label := channelLabel(snap, ch)
		for _, key := range keys {
			id := VariableID(ch.ID, key)
			vars.Definitions = append(vars.Definitions, VariableDefinition{
				VariableID: id,
				Name:       label + " " + key,
			})
			vars.Values[id] = ch.Meta[key]
		}
	}
	return vars
}

// VariableID is the variable name for one metadata key of a channel.
func VariableID(channelID int64, metaKey string) string {
	return fmt.Sprintf("channel_%d_%s", channelID, metaKey)
}

func channelLabel(snap *restream.Snapshot, ch restream.Channel) string {
	name := "Unknown"
	if p, ok := snap.Platform(ch.StreamingPlatformID); ok {
		name = p.Name
	}
	return fmt.Sprintf("%s (%s)", name, ch.DisplayName)
}
