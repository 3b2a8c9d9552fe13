package playback

import (
	"sync"
	"time"

	"github.com/mrsingh-rishi/voice-query/model"
	"github.com/pkg/errors"
)

var ErrPlayerClosed = errors.New("player closed")

type stopper interface {
	Stop() bool
}

// ClockPlayer tracks the position of audio that is rendered elsewhere, such as
// in a remote browser, by advancing a rate-scaled clock over the resource duration.
type ClockPlayer struct {
	duration time.Duration
	onEnded  func()

	now       func() time.Time
	afterFunc func(time.Duration, func()) stopper

	mu      sync.Mutex
	rate    float64
	offset  time.Duration
	anchor  time.Time
	playing bool
	closed  bool
	timer   stopper
	armed   uint64
}

// OpenClock is an Opener producing ClockPlayers.
func OpenClock(res *model.PlayableResource, onEnded func()) (Player, error) {
	if res == nil || res.Released() {
		return nil, model.ErrResourceReleased
	}
	return newClockPlayer(res.Duration(), onEnded), nil
}

func newClockPlayer(duration time.Duration, onEnded func()) *ClockPlayer {
	return &ClockPlayer{
		duration: duration,
		onEnded:  onEnded,
		rate:     1,
		now:      time.Now,
		afterFunc: func(d time.Duration, f func()) stopper {
			return time.AfterFunc(d, f)
		},
	}
}

func (p *ClockPlayer) Play() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPlayerClosed
	}
	if p.playing {
		return nil
	}
	if p.offset >= p.duration {
		p.offset = 0
	}
	p.anchor = p.now()
	p.playing = true
	p.armLocked()
	return nil
}

func (p *ClockPlayer) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.playing {
		return
	}
	p.offset = p.positionLocked()
	p.playing = false
	p.disarmLocked()
}

func (p *ClockPlayer) Seek(pos time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case pos < 0:
		pos = 0
	case pos > p.duration:
		pos = p.duration
	}
	p.offset = pos
	if p.playing {
		p.anchor = p.now()
		p.armLocked()
	}
}

func (p *ClockPlayer) SetRate(rate float64) {
	if rate <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.playing {
		p.offset = p.positionLocked()
		p.anchor = p.now()
	}
	p.rate = rate
	if p.playing {
		p.armLocked()
	}
}

func (p *ClockPlayer) Position() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.positionLocked()
}

func (p *ClockPlayer) Duration() time.Duration {
	return p.duration
}

func (p *ClockPlayer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.playing {
		p.offset = p.positionLocked()
	}
	p.playing = false
	p.closed = true
	p.disarmLocked()
	return nil
}

func (p *ClockPlayer) positionLocked() time.Duration {
	if !p.playing {
		return p.offset
	}
	pos := p.offset + time.Duration(float64(p.now().Sub(p.anchor))*p.rate)
	if pos > p.duration {
		return p.duration
	}
	return pos
}

// armLocked schedules the end of playback. onEnded always runs on the timer's
// goroutine, never inside a caller of Play.
func (p *ClockPlayer) armLocked() {
	p.disarmLocked()
	p.armed++
	token := p.armed
	remaining := time.Duration(float64(p.duration-p.offset) / p.rate)
	p.timer = p.afterFunc(remaining, func() { p.finish(token) })
}

func (p *ClockPlayer) disarmLocked() {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.armed++
}

func (p *ClockPlayer) finish(token uint64) {
	p.mu.Lock()
	if token != p.armed || !p.playing {
		p.mu.Unlock()
		return
	}
	p.offset = p.duration
	p.playing = false
	p.timer = nil
	p.mu.Unlock()

	if p.onEnded != nil {
		p.onEnded()
	}
}
