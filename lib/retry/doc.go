// Package retry applies bounded exponential backoff with jitter around whole
// store operations (github.com/cenkalti/backoff/v5).
//
// Only errors matching store.ErrUnavailable are retried. Conflicts, invalid keys and
// every other error end the loop right away. Idempotent operations (timer upserts,
// queries) can be retried blindly. Conditional writes have to re-read the current
// version inside the retried function.
package retry
