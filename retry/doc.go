// Package retry holds the decision logic of a resilient HTTP call: which
// responses may be retried and how long to wait between attempts.
//
// Non-retryable statuses
//   - Exact codes: 401 or "401".
//   - Hundreds class: "5xx" matches 500-599.
//   - Tens class: "40x" matches 400-409.
//   - Malformed patterns never match, so the call keeps retrying.
//
// Backoff Strategy
//   - A fixed delay, when set, is used for every retry.
//   - Otherwise a minimum backoff is used as-is for the first retry, then
//     doubled on each retry with a 1-50ms random shift, clamped to the maximum.
//   - With neither configured, every retry waits one second.
//
// Nothing in this package performs I/O; it is driven by the http package.
package retry
