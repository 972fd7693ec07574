package provider

import (
	"time"

	"github.com/adrianmueller-eu/personal-assistant-sub000/chat"
	"github.com/adrianmueller-eu/personal-assistant-sub000/config"
	"github.com/adrianmueller-eu/personal-assistant-sub000/errors"
)

// RetryPolicy retries transient failures with linear backoff: the sleep
// before retry n is Step*n. Sleeping blocks the caller.
type RetryPolicy struct {
	MaxRetries int
	Step       time.Duration
	Sleep      func(time.Duration)
}

// NewRetryPolicy builds a policy from config using time.Sleep.
func NewRetryPolicy(cfg config.RetryConfig) RetryPolicy {
	return RetryPolicy{
		MaxRetries: cfg.MaxRetries,
		Step:       cfg.Step,
		Sleep:      time.Sleep,
	}
}

// Do calls send until it succeeds, fails with a non-transient error, or the
// retry budget is spent. An exhausted transient error is returned as
// terminal. attempts counts every call made.
func (p RetryPolicy) Do(send func(attempt int) chat.Result) (res chat.Result, attempts int) {
	sleep := p.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}

	for attempt := 1; ; attempt++ {
		res = send(attempt)
		if res.OK() || !res.Error.Retryable() {
			return res, attempt
		}
		if attempt > p.MaxRetries {
			res.Error = errors.AsTerminal(res.Error)
			return res, attempt
		}
		sleep(p.Step * time.Duration(attempt))
	}
}
