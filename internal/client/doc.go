// Package client mediates every call to the generation service. It paces
// outbound requests with a token bucket shared by all workers and retries
// transient failures with capped exponential backoff, so that callers only
// ever see a final outcome: success, a permanent failure, or cancellation.
package client
