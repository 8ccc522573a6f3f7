package monitoring

import (
	"context"
	"fmt"
	"time"

	"github.com/WittorioJaro/localAgents/pkg/errors"
	"github.com/WittorioJaro/localAgents/pkg/logging"
)

const (
	DefaultProbeInterval    = time.Second
	DefaultProbeMaxAttempts = 10
	DefaultProbeTimeout     = 5 * time.Second
)

// ProbeOptions is the retry policy of WaitUntilReady
type ProbeOptions struct {
	Interval    time.Duration `yaml:"interval,omitempty" toml:"interval,omitempty"`
	MaxAttempts int           `yaml:"max_attempts,omitempty" toml:"max_attempts,omitempty"`
	// Timeout bounds a single check invocation
	Timeout time.Duration `yaml:"timeout,omitempty" toml:"timeout,omitempty"`
}

func DefaultProbeOptions() ProbeOptions {
	return ProbeOptions{
		Interval:    DefaultProbeInterval,
		MaxAttempts: DefaultProbeMaxAttempts,
		Timeout:     DefaultProbeTimeout,
	}
}

// WithDefaults fills zero fields
func (o ProbeOptions) WithDefaults() ProbeOptions {
	if o.Interval == 0 {
		o.Interval = DefaultProbeInterval
	}
	if o.MaxAttempts == 0 {
		o.MaxAttempts = DefaultProbeMaxAttempts
	}
	if o.Timeout == 0 {
		o.Timeout = DefaultProbeTimeout
	}
	return o
}

// ProbeOnce runs a single bounded check. It is the cheap short-circuit used
// before deciding to spawn.
func ProbeOnce(ctx context.Context, check Check, timeout time.Duration) (Result, error) {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return check.Check(checkCtx)
}

// WaitUntilReady sleeps Interval before each attempt and runs the check once
// per attempt. NotReady and check errors are logged and retried; only
// exhausting MaxAttempts or ctx ending stops the loop.
func WaitUntilReady(ctx context.Context, check Check, opts ProbeOptions, id string, logger logging.Logger) error {
	opts = opts.WithDefaults()
	if err := ValidateProbeOptions(opts); err != nil {
		return err
	}

	logger.Infof("Waiting for readiness, id: %s, interval: %v, max attempts: %d", id, opts.Interval, opts.MaxAttempts)

	timer := time.NewTimer(opts.Interval)
	defer timer.Stop()

	var lastErr error
	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		if attempt > 1 {
			timer.Reset(opts.Interval)
		}
		select {
		case <-ctx.Done():
			logger.Warnf("Readiness wait cancelled, id: %s, attempt: %d", id, attempt)
			return errors.NewCancelledError("readiness wait cancelled", ctx.Err()).
				WithContext("id", id).
				WithContext("attempt", attempt)
		case <-timer.C:
		}

		result, err := ProbeOnce(ctx, check, opts.Timeout)
		switch {
		case err != nil:
			lastErr = err
			logger.Debugf("Readiness probe error, id: %s, attempt: %d/%d, error: %v", id, attempt, opts.MaxAttempts, err)
		case result == Ready:
			logger.Infof("Service is ready, id: %s, attempt: %d/%d", id, attempt, opts.MaxAttempts)
			return nil
		default:
			logger.Debugf("Service not ready yet, id: %s, attempt: %d/%d", id, attempt, opts.MaxAttempts)
		}
	}

	logger.Warnf("Readiness attempts exhausted, id: %s, attempts: %d", id, opts.MaxAttempts)
	return errors.NewProbeTimeoutError(fmt.Sprintf("%s did not become ready after %d attempts", id, opts.MaxAttempts), lastErr).
		WithContext("id", id).
		WithContext("attempts", opts.MaxAttempts)
}
