package workspace

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const maxNetworkRetries = 4

// retryInitialInterval is a var so tests can shrink the backoff.
var retryInitialInterval = 2 * time.Second

// transientMarkers are git output fragments that indicate a network fault
// worth retrying. Anything else (auth failures, missing repos, bad refs)
// fails immediately.
var transientMarkers = []string{
	"connection reset",
	"connection refused",
	"could not resolve host",
	"temporary failure in name resolution",
	"operation timed out",
	"timed out",
	"early eof",
	"the remote end hung up unexpectedly",
	"tls handshake timeout",
	"unable to access",
}

var permanentMarkers = []string{
	"authentication failed",
	"could not read username",
	"could not read password",
	"permission denied",
	"repository not found",
	"does not appear to be a git repository",
}

func isTransientGitError(output string) bool {
	out := strings.ToLower(output)
	for _, marker := range permanentMarkers {
		if strings.Contains(out, marker) {
			return false
		}
	}
	for _, marker := range transientMarkers {
		if strings.Contains(out, marker) {
			return true
		}
	}
	return false
}

// retryTransient runs op with bounded exponential backoff, retrying only
// failures whose output classifies as transient network trouble.
func retryTransient(ctx context.Context, desc string, op func() (string, error)) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = retryInitialInterval
	bo.MaxInterval = 30 * time.Second
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, maxNetworkRetries), ctx)

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		out, err := op()
		if err == nil {
			return nil
		}
		if !isTransientGitError(out) {
			return backoff.Permanent(err)
		}
		log.Printf("warning: git %s attempt %d failed (transient): %v", desc, attempt, err)
		return err
	}, policy)
}
