package client

import (
	"sync"
	"time"

	"hermes/server/internal/events"
)

// TypingDelay is the quiet period after which a typist is considered idle.
const TypingDelay = time.Second

// Typist debounces keystrokes into typing and stopTyping events. The first
// keystroke emits typing, every keystroke re-arms the timer and a quiet
// period or a send emits stopTyping.
type Typist struct {
	mu     sync.Mutex
	delay  time.Duration
	emit   func(events.Type, events.TypingPayload)
	target events.TypingPayload
	active bool
	timer  *time.Timer
	// gen invalidates timers that fired after being superseded.
	gen int
}

func NewTypist(delay time.Duration, emit func(events.Type, events.TypingPayload)) *Typist {
	return &Typist{delay: delay, emit: emit}
}

// Keystroke reports input towards target.
func (t *Typist) Keystroke(target events.TypingPayload) {
	t.mu.Lock()
	var stopped *events.TypingPayload
	if t.active && t.target != target {
		prev := t.target
		stopped = &prev
		t.active = false
	}
	started := !t.active
	t.active = true
	t.target = target
	t.gen++
	gen := t.gen
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(t.delay, func() { t.expire(gen) })
	t.mu.Unlock()

	if stopped != nil {
		t.emit(events.StopTyping, *stopped)
	}
	if started {
		t.emit(events.Typing, target)
	}
}

// Sent ends the typing state immediately, as after sending a message.
func (t *Typist) Sent() { t.Stop() }

// Stop ends the typing state, emitting stopTyping if it was active.
func (t *Typist) Stop() {
	t.mu.Lock()
	if !t.active {
		t.mu.Unlock()
		return
	}
	target := t.target
	t.active = false
	t.gen++
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.mu.Unlock()

	t.emit(events.StopTyping, target)
}

func (t *Typist) expire(gen int) {
	t.mu.Lock()
	if gen != t.gen || !t.active {
		t.mu.Unlock()
		return
	}
	target := t.target
	t.active = false
	t.timer = nil
	t.mu.Unlock()

	t.emit(events.StopTyping, target)
}

// Active reports whether a typing event is outstanding.
func (t *Typist) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}
