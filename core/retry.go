package core

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"sync/atomic"
	"time"

	"fetchbridge/logger"
	"fetchbridge/models"

	"github.com/hashicorp/go-retryablehttp"
)

const DefaultRetryBackoff = 500 * time.Millisecond

var defaultRetryOn = []int{
	http.StatusTooManyRequests,
	http.StatusInternalServerError,
	http.StatusBadGateway,
	http.StatusServiceUnavailable,
	http.StatusGatewayTimeout,
}

type retryPolicy struct {
	maxAttempts int
	backoff     time.Duration
	retryOn     map[int]bool
}

func newRetryPolicy(opts *models.RetryOptions) retryPolicy {
	p := retryPolicy{maxAttempts: 1, backoff: DefaultRetryBackoff, retryOn: map[int]bool{}}
	codes := defaultRetryOn
	if opts != nil {
		if opts.MaxAttempts > 1 {
			p.maxAttempts = opts.MaxAttempts
		}
		if opts.BackoffMs != nil && *opts.BackoffMs >= 0 {
			p.backoff = time.Duration(*opts.BackoffMs) * time.Millisecond
		}
		if len(opts.RetryOn) > 0 {
			codes = opts.RetryOn
		}
	}
	for _, c := range codes {
		p.retryOn[c] = true
	}
	return p
}

// checkRetry retries transport errors and statuses in the retry set, never
// once the shared request context is done.
func (p retryPolicy) checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, context.Cause(ctx)
	}
	if err != nil {
		return true, nil
	}
	return p.retryOn[resp.StatusCode], nil
}

// backoffFor waits backoff*2^(attempt-1) after a retryable status and retries
// transport errors immediately.
func (p retryPolicy) backoffFor(_, _ time.Duration, attemptNum int, resp *http.Response) time.Duration {
	if resp == nil {
		return 0
	}
	if attemptNum > 20 {
		attemptNum = 20
	}
	return p.backoff * time.Duration(1<<uint(attemptNum))
}

// client wraps base in a retrying client whose wait between attempts is
// cut short by the request context. attempts counts network calls made.
func (p retryPolicy) client(base *http.Client, attempts *atomic.Int32) *retryablehttp.Client {
	return &retryablehttp.Client{
		HTTPClient:   base,
		Logger:       retryLogger{},
		RetryWaitMin: p.backoff,
		RetryWaitMax: p.backoff,
		RetryMax:     p.maxAttempts - 1,
		CheckRetry:   p.checkRetry,
		Backoff:      p.backoffFor,
		ErrorHandler: retryablehttp.PassthroughErrorHandler,
		RequestLogHook: func(_ retryablehttp.Logger, req *http.Request, attempt int) {
			attempts.Add(1)
			if attempt > 0 {
				logger.BridgeDebug("Retry: attempt %d for %s %s://%s%s", attempt+1, req.Method, req.URL.Scheme, req.URL.Host, req.URL.Path)
			}
		},
	}
}

// retryLogger routes retryablehttp's leveled logging to the bridge log.
type retryLogger struct{}

func (retryLogger) Error(msg string, kv ...interface{}) {
	logger.BridgeError("retryablehttp: %s %s", msg, formatKV(kv))
}

func (retryLogger) Info(msg string, kv ...interface{}) {
	logger.BridgeInfo("retryablehttp: %s %s", msg, formatKV(kv))
}

func (retryLogger) Debug(msg string, kv ...interface{}) {
	logger.BridgeDebug("retryablehttp: %s %s", msg, formatKV(kv))
}

func (retryLogger) Warn(msg string, kv ...interface{}) {
	logger.BridgeWarn("retryablehttp: %s %s", msg, formatKV(kv))
}

// queryRe strips query strings, which may carry injected credentials.
var queryRe = regexp.MustCompile(`(https?://[^\s?"]+)\?[^\s"]*`)

func formatKV(kv []interface{}) string {
	out := ""
	for i := 0; i+1 < len(kv); i += 2 {
		if i > 0 {
			out += " "
		}
		out += fmt.Sprintf("%v=%v", kv[i], kv[i+1])
	}
	return queryRe.ReplaceAllString(out, "$1?[redacted]")
}
