// Package http drives one logical HTTP call to completion: it issues the
// request, classifies the outcome and retries according to the policy
// carried by the CallSpec, returning either the result or a single CallError.
//
// Retries
//   - Controlled per call via CallSpec.Retries; zero makes exactly one attempt.
//   - Transport failures and non-2xx statuses are retried while budget remains.
//   - Statuses matching CallSpec.DoNotRetryOn/DoNotRetryOnCodes end the call.
//
// Backoff Strategy
//   - CallSpec.RetryAfter waits the same delay before every retry.
//   - CallSpec.MinRetryAfter starts exponential backoff with 1-50ms jitter,
//     capped by CallSpec.MaxRetryAfter.
//   - Without either, every retry waits one second.
//   - Waits honor context cancellation.
//
// Notes
//   - Only the last attempt's failure is reported.
//   - Request bodies are encoded once and re-sent on each attempt.
//   - Interceptor errors are not retried and are surfaced immediately.
package http
