package blockview

import (
	"context"
	"errors"
	"sync"
	"time"
)

// PlaceholderState is the lifecycle of a Placeholder.
type PlaceholderState int

const (
	Pending PlaceholderState = iota
	Resolved
	Failed
)

func (s PlaceholderState) String() string {
	switch s {
	case Resolved:
		return "resolved"
	case Failed:
		return "failed"
	}
	return "pending"
}

// Producer computes the content of a Placeholder.
type Producer func(ctx context.Context) (string, error)

// Placeholder is block content that is computed once, on first request, and
// handed to every caller that asks for it.
type Placeholder struct {
	mu       sync.Mutex
	ctx      context.Context
	producer Producer
	timeout  time.Duration
	started  bool
	state    PlaceholderState
	value    string
	err      error
	waiters  []func(string, error)
}

// NewPlaceholder creates a pending placeholder. producer is not called until
// the first GetContent or Wait.
func NewPlaceholder(producer Producer) *Placeholder {
	return newPlaceholder(context.Background(), producer, 0)
}

func newPlaceholder(ctx context.Context, producer Producer, timeout time.Duration) *Placeholder {
	return &Placeholder{ctx: ctx, producer: producer, timeout: timeout}
}

// ResolvedPlaceholder returns a placeholder that already holds value.
func ResolvedPlaceholder(value string) *Placeholder {
	return &Placeholder{state: Resolved, value: value, started: true}
}

// WithTimeout sets the time the producer is given once started.
// It has no effect on a placeholder that has already started.
func (p *Placeholder) WithTimeout(d time.Duration) *Placeholder {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		p.timeout = d
	}
	return p
}

// State returns the current state.
func (p *Placeholder) State() PlaceholderState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// GetContent calls onResult with the outcome, right away when it is known,
// otherwise once the producer finishes. The first call starts the producer.
func (p *Placeholder) GetContent(onResult func(value string, err error)) {
	p.mu.Lock()
	if p.state != Pending {
		value, err := p.value, p.err
		p.mu.Unlock()
		onResult(value, err)
		return
	}
	p.waiters = append(p.waiters, onResult)
	start := !p.started
	p.started = true
	p.mu.Unlock()

	if start {
		go p.produce()
	}
}

// Wait blocks until the placeholder resolves or ctx is done.
func (p *Placeholder) Wait(ctx context.Context) (string, error) {
	type outcome struct {
		value string
		err   error
	}
	ch := make(chan outcome, 1)
	p.GetContent(func(value string, err error) {
		ch <- outcome{value, err}
	})
	select {
	case o := <-ch:
		return o.value, o.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (p *Placeholder) produce() {
	p.mu.Lock()
	producer, timeout, ctx := p.producer, p.timeout, p.ctx
	p.mu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type outcome struct {
		value string
		err   error
	}
	result := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				result <- outcome{err: &panicError{value: r}}
			}
		}()
		if producer == nil {
			result <- outcome{}
			return
		}
		value, err := producer(ctx)
		result <- outcome{value, err}
	}()

	select {
	case o := <-result:
		p.resolve(o.value, timeoutError(o.err))
	case <-ctx.Done():
		p.resolve("", timeoutError(ctx.Err()))
	}
}

func timeoutError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrPlaceholderTimeout
	}
	return err
}

// resolve records the outcome once and drains the waiters.
func (p *Placeholder) resolve(value string, err error) {
	p.mu.Lock()
	if p.state != Pending {
		p.mu.Unlock()
		return
	}
	if err != nil {
		p.state = Failed
	} else {
		p.state = Resolved
		p.value = value
	}
	p.err = err
	p.producer = nil
	value = p.value
	waiters := p.waiters
	p.waiters = nil
	p.mu.Unlock()

	for _, w := range waiters {
		w(value, err)
	}
}
