package nimbus

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
)

type reconnectionState int

const (
	reconnectionIdle reconnectionState = iota
	reconnectionPolling
)

// ReconnectionListener receives the outcome of a polling reconnection
// attempt. The Subscription Manager implements it and installs itself on
// the polling controller; the delayed reconnection takes no listener.
type ReconnectionListener interface {
	onReconnection()
	onMaxReconnectionExhaustion()
}

// reconnectionController polls a cheap probe endpoint on a backoff
// schedule until connectivity returns or the attempt cap is hit. Backoff
// math (exponential arm) is grounded on the teacher's reconnector
// (realtime.go); the Linear arm has no teacher analog and is built in the
// same file/idiom.
type reconnectionController struct {
	mu          sync.Mutex
	state       reconnectionState
	probe       ProbeCaller
	policy      ReconnectionPolicyKind
	maxAttempts int
	attempt     int
	listener    ReconnectionListener
	logger      *zap.Logger

	// baseDelay and maxDelay parameterize nextDelay; production code always
	// gets the package defaults via newReconnectionController, tests shrink
	// them to avoid waiting out real backoff.
	baseDelay time.Duration
	maxDelay  time.Duration

	cancel context.CancelFunc
}

const (
	defaultReconnectionBaseDelay = 1 * time.Second
	defaultReconnectionMaxDelay  = 30 * time.Second
)

func newReconnectionController(probe ProbeCaller, policy ReconnectionPolicyKind, maxAttempts int, listener ReconnectionListener, logger *zap.Logger) *reconnectionController {
	return &reconnectionController{
		probe:       probe,
		policy:      policy,
		maxAttempts: maxAttempts,
		listener:    listener,
		logger:      logger,
		baseDelay:   defaultReconnectionBaseDelay,
		maxDelay:    defaultReconnectionMaxDelay,
	}
}

func (c *reconnectionController) nextDelay() time.Duration {
	base := c.baseDelay
	max := c.maxDelay

	if c.policy == ReconnectionLinear {
		delay := base * time.Duration(c.attempt+1)
		if delay > max {
			delay = max
		}
		return delay
	}

	jitter := time.Duration(rand.Float64() * float64(base) * 0.5)
	delay := time.Duration(math.Min(
		float64(base)*math.Pow(2, float64(c.attempt))+float64(jitter),
		float64(max),
	))
	return delay
}

// Start transitions idle -> polling and begins issuing probes on a backoff
// schedule. A no-op if already polling.
func (c *reconnectionController) Start() {
	c.mu.Lock()
	if c.state == reconnectionPolling {
		c.mu.Unlock()
		return
	}
	c.state = reconnectionPolling
	c.attempt = 0
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.mu.Unlock()

	go c.poll(ctx)
}

// Cancel stops any in-progress polling without firing a callback.
func (c *reconnectionController) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.state = reconnectionIdle
}

func (c *reconnectionController) poll(ctx context.Context) {
	for {
		c.mu.Lock()
		delay := c.nextDelay()
		c.mu.Unlock()

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if ctx.Err() != nil {
			return
		}

		err := c.probe.Probe(ctx)
		if ctx.Err() != nil {
			return
		}

		c.mu.Lock()
		if err == nil {
			c.state = reconnectionIdle
			c.cancel = nil
			c.mu.Unlock()
			c.listener.onReconnection()
			return
		}

		c.attempt++
		exhausted := c.maxAttempts > 0 && c.attempt >= c.maxAttempts
		if exhausted {
			c.state = reconnectionIdle
			c.cancel = nil
		}
		c.mu.Unlock()

		if exhausted {
			c.logger.Warn("reconnection attempts exhausted", zap.Int("attempts", c.attempt))
			c.listener.onMaxReconnectionExhaustion()
			return
		}
	}
}
