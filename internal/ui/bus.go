package ui

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// Command is an operation that must run on the UI thread.
type Command interface {
	command()
}

// ResizeWindow scales the window by Factor.
type ResizeWindow struct {
	Factor float64
}

// ShowDialog asks a yes/no question. The consumer sends exactly one answer
// on Reply, which must be buffered.
type ShowDialog struct {
	Title string
	Body  string
	Reply chan<- bool
}

// EvalScript runs Script in the front end.
type EvalScript struct {
	Script string
}

// OpenURL opens URL in the system browser.
type OpenURL struct {
	URL string
}

func (ResizeWindow) command() {}
func (ShowDialog) command()   {}
func (EvalScript) command()   {}
func (OpenURL) command()      {}

// ErrBusConsumed is returned when a second consumer tries to run.
var ErrBusConsumed = errors.New("ui bus already has a consumer")

// ErrBusClosed is returned by Next once the bus is closed and drained.
var ErrBusClosed = errors.New("ui bus closed")

// Handler executes commands on the UI thread.
type Handler interface {
	Handle(cmd Command)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(Command)

func (f HandlerFunc) Handle(cmd Command) { f(cmd) }

// Bus is an unbounded multi-producer, single-consumer queue of UI commands.
// Workers Post; one UI-owned loop runs them in order.
type Bus struct {
	mu       sync.Mutex
	queue    []Command
	closed   bool
	notify   chan struct{}
	consumed atomic.Bool
}

func NewBus() *Bus {
	return &Bus{notify: make(chan struct{}, 1)}
}

// Post enqueues cmd without blocking. Commands posted after Close are dropped.
func (b *Bus) Post(cmd Command) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.queue = append(b.queue, cmd)
	b.mu.Unlock()

	select {
	case b.notify <- struct{}{}:
	default:
	}
}

// Close stops accepting commands. Queued commands are still delivered.
func (b *Bus) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()

	select {
	case b.notify <- struct{}{}:
	default:
	}
}

// Next blocks until a command is available.
func (b *Bus) Next(ctx context.Context) (Command, error) {
	for {
		b.mu.Lock()
		if len(b.queue) > 0 {
			cmd := b.queue[0]
			b.queue[0] = nil
			b.queue = b.queue[1:]
			b.mu.Unlock()
			return cmd, nil
		}
		closed := b.closed
		b.mu.Unlock()
		if closed {
			return nil, ErrBusClosed
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-b.notify:
		}
	}
}

// Run consumes commands until ctx is done or the bus is closed. Only one
// Run may be active per bus.
func (b *Bus) Run(ctx context.Context, h Handler) error {
	if !b.consumed.CompareAndSwap(false, true) {
		return ErrBusConsumed
	}
	defer b.consumed.Store(false)

	for {
		cmd, err := b.Next(ctx)
		if err != nil {
			if errors.Is(err, ErrBusClosed) {
				return nil
			}
			return err
		}
		h.Handle(cmd)
	}
}

// Ask posts a ShowDialog and waits for the answer.
func (b *Bus) Ask(ctx context.Context, title, body string) (bool, error) {
	reply := make(chan bool, 1)
	b.Post(ShowDialog{Title: title, Body: body, Reply: reply})
	select {
	case yes := <-reply:
		return yes, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}
