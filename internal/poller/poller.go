// Package poller mirrors the remote Restream state locally. One poll cycle
// fetches platforms, channels and per-channel metadata and hands the
// resulting snapshot to every registered Publisher. Cycles never overlap.
package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dvcrn/restream-bridge/internal/instance"
	"github.com/dvcrn/restream-bridge/internal/metrics"
	"github.com/dvcrn/restream-bridge/internal/restream"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// DefaultInterval is used when no poll interval is configured.
const DefaultInterval = 30 * time.Second

// metaConcurrency bounds the concurrent channel metadata requests.
const metaConcurrency = 8

var (
	// ErrPollInProgress is returned when a cycle is requested while another
	// one is still running. The request is dropped, not queued.
	ErrPollInProgress = errors.New("poll already in progress")

	// ErrBadConfig is returned when polling is skipped because the instance
	// configuration is known to be unusable.
	ErrBadConfig = errors.New("bad configuration, poll skipped")
)

// API is the subset of the Restream client a poll cycle needs.
type API interface {
	Platforms(ctx context.Context) ([]restream.Platform, error)
	Channels(ctx context.Context) ([]restream.Channel, error)
	ChannelMeta(ctx context.Context, channelID int64) (restream.Meta, error)
}

// Publisher receives every completed snapshot.
type Publisher interface {
	Publish(snap *restream.Snapshot)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(snap *restream.Snapshot)

func (f PublisherFunc) Publish(snap *restream.Snapshot) { f(snap) }

type Poller struct {
	api    API
	inst   *instance.Instance
	clock  clockwork.Clock
	logger zerolog.Logger

	inProgress atomic.Bool

	mu         sync.Mutex
	interval   time.Duration
	publishers []Publisher
	reset      chan struct{}
}

// Option configures a Poller.
type Option func(*Poller)

// WithClock replaces the real clock, mostly for tests.
func WithClock(clock clockwork.Clock) Option {
	return func(p *Poller) { p.clock = clock }
}

// WithInterval sets the periodic poll interval. Zero or negative disables
// periodic polling.
func WithInterval(d time.Duration) Option {
	return func(p *Poller) { p.interval = d }
}

func New(api API, inst *instance.Instance, logger zerolog.Logger, opts ...Option) *Poller {
	p := &Poller{
		api:      api,
		inst:     inst,
		clock:    clockwork.NewRealClock(),
		logger:   logger,
		interval: DefaultInterval,
		reset:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Subscribe registers a publisher for future snapshots.
func (p *Poller) Subscribe(pub Publisher) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.publishers = append(p.publishers, pub)
}

// Interval returns the current periodic poll interval.
func (p *Poller) Interval() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.interval
}

// SetInterval changes the periodic poll interval. A running loop restarts
// its ticker with the new value.
func (p *Poller) SetInterval(d time.Duration) {
	p.mu.Lock()
	p.interval = d
	p.mu.Unlock()

	select {
	case p.reset <- struct{}{}:
	default:
	}
}

// InProgress reports whether a poll cycle is currently running.
func (p *Poller) InProgress() bool {
	return p.inProgress.Load()
}

// Run polls once immediately, then on every tick until ctx is done. Ticks
// start cycles in the background; a tick that lands on a running cycle is
// dropped by the in-progress guard.
func (p *Poller) Run(ctx context.Context) {
	var wg sync.WaitGroup
	defer wg.Wait()

	p.logPoll(p.Poll(ctx))

	ticker, tick := p.newTicker()
	defer func() { stopTicker(ticker) }()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info().Msg("Poller stopped")
			return
		case <-p.reset:
			stopTicker(ticker)
			ticker, tick = p.newTicker()
			p.logger.Debug().Dur("interval", p.Interval()).Msg("Poll interval changed")
		case <-tick:
			wg.Add(1)
			go func() {
				defer wg.Done()
				p.logPoll(p.Poll(ctx))
			}()
		}
	}
}

// PollAsync starts a cycle in the background, used after write actions.
func (p *Poller) PollAsync(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	go func() {
		p.logPoll(p.Poll(ctx))
	}()
}

// newTicker returns a ticker for the current interval, or a nil channel when
// periodic polling is disabled.
func (p *Poller) newTicker() (clockwork.Ticker, <-chan time.Time) {
	interval := p.Interval()
	if interval <= 0 {
		return nil, nil
	}
	t := p.clock.NewTicker(interval)
	return t, t.Chan()
}

func stopTicker(t clockwork.Ticker) {
	if t != nil {
		t.Stop()
	}
}

func (p *Poller) logPoll(err error) {
	switch {
	case err == nil, errors.Is(err, ErrPollInProgress), errors.Is(err, ErrBadConfig):
	case errors.Is(err, context.Canceled):
		p.logger.Debug().Err(err).Msg("Poll cancelled")
	default:
		p.logger.Error().Err(err).Msg("Poll cycle failed")
	}
}

// Poll runs one cycle: platforms, channels, then metadata for every
// non-custom-RTMP channel concurrently. Failing to list platforms or channels
// aborts the cycle; a failed metadata fetch leaves that channel with empty
// metadata.
func (p *Poller) Poll(ctx context.Context) error {
	p.logger.Debug().Msg("Polling APIs")
	if !p.inProgress.CompareAndSwap(false, true) {
		p.logger.Debug().Msg("Poll already in progress, skipping")
		metrics.PollCyclesTotal.WithLabelValues("skipped_in_progress").Inc()
		return ErrPollInProgress
	}
	defer p.inProgress.Store(false)

	if status, _ := p.inst.Status(); status == instance.StatusBadConfig {
		p.logger.Debug().Msg("Bad Configuration, skipping poll")
		metrics.PollCyclesTotal.WithLabelValues("skipped_bad_config").Inc()
		return ErrBadConfig
	}

	start := p.clock.Now()
	snap, err := p.fetch(ctx)
	if err != nil {
		metrics.PollCyclesTotal.WithLabelValues("failed").Inc()
		return err
	}
	metrics.PollDuration.Observe(p.clock.Since(start).Seconds())
	metrics.PollCyclesTotal.WithLabelValues("completed").Inc()

	p.publish(snap)
	return nil
}

func (p *Poller) fetch(ctx context.Context) (*restream.Snapshot, error) {
	platforms, err := p.api.Platforms(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching platforms: %w", err)
	}
	channels, err := p.api.Channels(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching channels: %w", err)
	}

	var g errgroup.Group
	g.SetLimit(metaConcurrency)
	for i := range channels {
		if channels[i].IsCustomRTMP() {
			continue
		}
		ch := &channels[i]
		g.Go(func() error {
			meta, err := p.api.ChannelMeta(ctx, ch.ID)
			if err != nil {
				p.logger.Warn().Err(err).Int64("channel_id", ch.ID).Msg("Failed to fetch channel meta")
				metrics.ChannelMetaErrors.Inc()
				meta = restream.Meta{}
			}
			ch.Meta = meta
			return nil
		})
	}
	_ = g.Wait()

	return &restream.Snapshot{
		Platforms: platforms,
		Channels:  channels,
		TakenAt:   p.clock.Now(),
	}, nil
}

func (p *Poller) publish(snap *restream.Snapshot) {
	p.mu.Lock()
	pubs := append([]Publisher(nil), p.publishers...)
	p.mu.Unlock()

	for _, pub := range pubs {
		p.publishOne(pub, snap)
	}
}

func (p *Poller) publishOne(pub Publisher, snap *restream.Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().Interface("panic", r).Msg("Snapshot publisher panicked")
		}
	}()
	pub.Publish(snap)
}
