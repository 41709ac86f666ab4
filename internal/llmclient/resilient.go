// File: internal/llmclient/resilient.go
// Description: The resilient call layer. Every generative call in the engine
// goes through Caller.Call, which adds rate limiting, a per-attempt timeout,
// and exponential backoff with jitter for transient failures. Permanent
// failures propagate immediately.
package llmclient

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/crucible/api/schemas"
)

const jitterCeiling = time.Second

// expJitterBackOff produces delays of base*2^attempt plus a random jitter in
// [0, 1s), and stops after maxRetries retries. With base >= 1s each delay is
// strictly greater than the previous one regardless of the jitter draw.
type expJitterBackOff struct {
	base       time.Duration
	maxRetries int
	attempt    int
	rng        *rand.Rand
}

func (b *expJitterBackOff) NextBackOff() time.Duration {
	if b.attempt >= b.maxRetries {
		return backoff.Stop
	}
	delay := b.base<<b.attempt + time.Duration(b.rng.Int63n(int64(jitterCeiling)))
	b.attempt++
	return delay
}

func (b *expJitterBackOff) Reset() { b.attempt = 0 }

// CallerOptions tunes the resilience policy.
type CallerOptions struct {
	MaxRetries  int           // retries after the first attempt; default 3
	BaseDelay   time.Duration // first retry delay before jitter; default 1s
	CallTimeout time.Duration // per-attempt timeout; default 300s
	RatePerSec  float64       // aggregate call rate; <=0 disables limiting
	Isolated    bool          // fresh provider handle per attempt
	Seed        int64         // jitter RNG seed, from the run context
}

// Caller wraps a provider factory with the resilience policy.
type Caller struct {
	factory schemas.ProviderFactory
	opts    CallerOptions
	limiter *rate.Limiter
	logger  *zap.Logger

	sharedOnce sync.Once
	shared     schemas.Provider
	sharedErr  error

	attempts atomic.Int64
	seedSeq  atomic.Int64
}

// NewCaller builds a Caller. Zero-valued options fall back to defaults.
func NewCaller(factory schemas.ProviderFactory, opts CallerOptions, logger *zap.Logger) *Caller {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = time.Second
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 300 * time.Second
	}
	var limiter *rate.Limiter
	if opts.RatePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RatePerSec), 1)
	}
	return &Caller{
		factory: factory,
		opts:    opts,
		limiter: limiter,
		logger:  logger.Named("llmclient.caller"),
	}
}

// Attempts reports the total number of provider attempts made so far.
func (c *Caller) Attempts() int64 { return c.attempts.Load() }

// Call executes one generative call under the resilience policy. The returned
// error is permanent: either retries were exhausted on transient failures or
// a permanent failure was hit.
func (c *Caller) Call(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	var content string

	operation := func() error {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return backoff.Permanent(err)
			}
		}

		provider, err := c.provider()
		if err != nil {
			return backoff.Permanent(err)
		}

		c.attempts.Add(1)

		callCtx, cancel := context.WithTimeout(ctx, c.opts.CallTimeout)
		defer cancel()

		out, err := provider.GenerateResponse(callCtx, req)
		if err != nil {
			// A request timeout is transient and subject to the retry policy.
			if errors.Is(err, context.DeadlineExceeded) || schemas.IsTransient(err) {
				c.logger.Warn("Transient provider failure, will retry", zap.Error(err))
				return err
			}
			return backoff.Permanent(err)
		}

		content = out
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(c.newBackOff(req), ctx)); err != nil {
		return "", err
	}
	return content, nil
}

// newBackOff builds the per-call backoff policy. The request's seed and retry
// budget, when set, take precedence over the configured options.
func (c *Caller) newBackOff(req schemas.GenerationRequest) *expJitterBackOff {
	seed := c.opts.Seed
	if req.Seed != 0 {
		seed = req.Seed
	}
	maxRetries := c.opts.MaxRetries
	if req.MaxRetries > 0 {
		maxRetries = req.MaxRetries
	}
	return &expJitterBackOff{
		base:       c.opts.BaseDelay,
		maxRetries: maxRetries,
		rng:        rand.New(rand.NewSource(seed + c.seedSeq.Add(1))),
	}
}

// provider returns a fresh handle when isolation is requested, otherwise a
// lazily constructed shared one.
func (c *Caller) provider() (schemas.Provider, error) {
	if c.opts.Isolated {
		return c.factory.NewProvider()
	}
	c.sharedOnce.Do(func() {
		c.shared, c.sharedErr = c.factory.NewProvider()
	})
	return c.shared, c.sharedErr
}
