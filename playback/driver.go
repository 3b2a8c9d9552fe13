// Package playback drives the answer audio and the highlighted word that
// follows it.
package playback

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/mrsingh-rishi/voice-query/logging"
	"github.com/mrsingh-rishi/voice-query/model"
	"github.com/pkg/errors"
)

const DefaultInterval = 120 * time.Millisecond

// Speeds are the playback factors offered to the user. SetSpeed accepts any positive factor.
var Speeds = []float64{1, 1.25, 1.5, 2}

var ErrInvalidSpeed = errors.New("playback speed must be a positive number")

// Player renders one resource. It calls the onEnded func given to its Opener
// once playback reaches the end by itself, from a goroutine of its own.
type Player interface {
	Play() error
	Pause()
	Seek(pos time.Duration)
	SetRate(rate float64)
	Position() time.Duration
	Duration() time.Duration
	Close() error
}

type Opener func(res *model.PlayableResource, onEnded func()) (Player, error)

// Driver owns the loaded PlayableResource and its player. The progress callback
// runs outside the driver's lock, one call at a time, and must not call back
// into the driver synchronously.
type Driver struct {
	open     Opener
	interval time.Duration
	log      logging.Logger

	mu         sync.Mutex
	res        *model.PlayableResource
	words      int
	player     Player
	token      uint64
	state      model.ProgressState
	stop       chan struct{}
	onProgress func(model.ProgressState)

	emitMu sync.Mutex
}

func NewDriver(open Opener, interval time.Duration, log logging.Logger) *Driver {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if log == nil {
		log = logging.NewLogger(context.Background())
	}
	return &Driver{
		open:     open,
		interval: interval,
		log:      log,
		state:    model.ProgressState{PlaybackSpeed: 1},
	}
}

// OnProgress registers fn to receive every progress change.
func (d *Driver) OnProgress(fn func(model.ProgressState)) {
	d.mu.Lock()
	d.onProgress = fn
	d.mu.Unlock()
}

func (d *Driver) State() model.ProgressState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Resource returns the loaded resource, nil after Unload.
func (d *Driver) Resource() *model.PlayableResource {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.res
}

// Load replaces the current resource. The previous one is released.
func (d *Driver) Load(res *model.PlayableResource, words []string) {
	d.mu.Lock()
	d.stopSamplingLocked()
	d.closePlayerLocked()
	prev := d.res
	d.res = res
	d.words = len(words)
	d.state.IsPlaying = false
	d.state.CurrentWordIndex = 0
	if prev != nil && prev != res {
		prev.Release()
	}
	d.unlockAndEmit()
}

// Unload drops the resource when its view goes away.
func (d *Driver) Unload() {
	d.Load(nil, nil)
}

// Play starts or resumes playback at the current speed. Without a live
// resource it does nothing.
func (d *Driver) Play() error {
	d.mu.Lock()
	ok, err := d.ensurePlayerLocked()
	if !ok || err != nil {
		d.mu.Unlock()
		return err
	}
	if d.state.IsPlaying {
		d.mu.Unlock()
		return nil
	}
	// A player resting at its end starts over from the beginning.
	if dur := d.player.Duration(); dur > 0 && d.player.Position() >= dur {
		d.state.CurrentWordIndex = 0
	}
	d.player.SetRate(d.state.PlaybackSpeed)
	if err := d.player.Play(); err != nil {
		d.mu.Unlock()
		return errors.Wrap(err, "play")
	}
	d.state.IsPlaying = true
	d.startSamplingLocked()
	d.unlockAndEmit()
	return nil
}

// Pause keeps the position and stops sampling.
func (d *Driver) Pause() {
	d.mu.Lock()
	if d.player == nil || !d.state.IsPlaying {
		d.mu.Unlock()
		return
	}
	d.player.Pause()
	d.state.IsPlaying = false
	d.stopSamplingLocked()
	d.unlockAndEmit()
}

// Replay restarts from the first word and plays.
func (d *Driver) Replay() error {
	d.mu.Lock()
	ok, err := d.ensurePlayerLocked()
	if !ok || err != nil {
		d.mu.Unlock()
		return err
	}
	d.stopSamplingLocked()
	d.player.Seek(0)
	d.player.SetRate(d.state.PlaybackSpeed)
	if err := d.player.Play(); err != nil {
		d.mu.Unlock()
		return errors.Wrap(err, "replay")
	}
	d.state.IsPlaying = true
	d.state.CurrentWordIndex = 0
	d.startSamplingLocked()
	d.unlockAndEmit()
	return nil
}

func (d *Driver) SetSpeed(factor float64) error {
	if factor <= 0 || math.IsNaN(factor) || math.IsInf(factor, 0) {
		return ErrInvalidSpeed
	}
	d.mu.Lock()
	d.state.PlaybackSpeed = factor
	if d.player != nil {
		d.player.SetRate(factor)
	}
	d.unlockAndEmit()
	return nil
}

// ensurePlayerLocked opens a player for the loaded resource on first use. It
// reports false when there is nothing playable.
func (d *Driver) ensurePlayerLocked() (bool, error) {
	if d.res == nil || d.res.Released() {
		if d.player != nil {
			d.stopSamplingLocked()
			d.closePlayerLocked()
			d.state.IsPlaying = false
		}
		return false, nil
	}
	if d.player != nil {
		return true, nil
	}
	d.token++
	token := d.token
	p, err := d.open(d.res, func() { d.ended(token) })
	if err != nil {
		return false, errors.Wrap(err, "open player")
	}
	d.player = p
	return true, nil
}

func (d *Driver) closePlayerLocked() {
	if d.player == nil {
		return
	}
	if err := d.player.Close(); err != nil {
		d.log.Warnf("playback: closing player: %v", err)
	}
	d.player = nil
	d.token++
}

func (d *Driver) ended(token uint64) {
	d.mu.Lock()
	if token != d.token || !d.state.IsPlaying {
		d.mu.Unlock()
		return
	}
	d.state.IsPlaying = false
	d.stopSamplingLocked()
	if d.words > 1 && d.player != nil {
		if idx := WordIndex(d.player.Position(), d.player.Duration(), d.words); idx > d.state.CurrentWordIndex {
			d.state.CurrentWordIndex = idx
		}
	}
	d.unlockAndEmit()
}

func (d *Driver) startSamplingLocked() {
	d.stopSamplingLocked()
	if d.words <= 1 || d.player == nil {
		return
	}
	stop := make(chan struct{})
	d.stop = stop
	go d.sample(d.player, d.words, stop)
}

func (d *Driver) stopSamplingLocked() {
	if d.stop != nil {
		close(d.stop)
		d.stop = nil
	}
}

func (d *Driver) sample(p Player, words int, stop chan struct{}) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		d.mu.Lock()
		if d.stop != stop {
			d.mu.Unlock()
			return
		}
		idx := WordIndex(p.Position(), p.Duration(), words)
		if idx <= d.state.CurrentWordIndex {
			d.mu.Unlock()
			continue
		}
		d.state.CurrentWordIndex = idx
		d.unlockAndEmit()
	}
}

// unlockAndEmit releases d.mu and publishes the state it guarded.
func (d *Driver) unlockAndEmit() {
	st, fn := d.state, d.onProgress
	d.emitMu.Lock()
	d.mu.Unlock()
	defer d.emitMu.Unlock()
	if fn != nil {
		fn(st)
	}
}
