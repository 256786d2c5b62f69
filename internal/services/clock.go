package services

import (
	"sync"
	"time"
)

// Ticker is the time source of a billing clock.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct {
	t *time.Ticker
}

// NewTimeTicker wraps time.NewTicker.
func NewTimeTicker(d time.Duration) Ticker {
	return &timeTicker{t: time.NewTicker(d)}
}

func (t *timeTicker) C() <-chan time.Time { return t.t.C }
func (t *timeTicker) Stop()               { t.t.Stop() }

// BillingClock fires onTick once per period on its own goroutine until
// Stop is called or onTick returns false. Ticks are delivered strictly one
// at a time.
type BillingClock struct {
	ticker Ticker
	onTick func(at time.Time) bool
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once
}

// StartBillingClock starts a clock driven by ticker.
func StartBillingClock(ticker Ticker, onTick func(at time.Time) bool) *BillingClock {
	c := &BillingClock{
		ticker: ticker,
		onTick: onTick,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go c.run()
	return c
}

func (c *BillingClock) run() {
	defer close(c.done)
	defer c.ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case at := <-c.ticker.C():
			// a stop racing with a tick wins
			select {
			case <-c.stop:
				return
			default:
			}
			if !c.onTick(at) {
				return
			}
		}
	}
}

// Stop cancels the clock. It is safe to call more than once and from onTick.
func (c *BillingClock) Stop() {
	c.once.Do(func() { close(c.stop) })
}

// Done is closed once the clock goroutine has exited.
func (c *BillingClock) Done() <-chan struct{} {
	return c.done
}
