// Package gemini provides an implementation of the generation.Generator interface
// that uses Google's Gemini API to produce output for batch items.
//
// This package is an infrastructure adapter: it connects the batch runner to
// the external Gemini service without exposing the details of the API to the
// rest of the application.
//
// Key components:
//
// 1. Generator:
//   - Implements the generation.Generator interface
//   - Renders a prompt for each item from a text template
//   - Requests JSON output and validates it before returning
//
// 2. Error classification:
//   - Maps HTTP status codes and finish reasons onto the sentinels in the
//     generation package so the caller can tell transient from permanent failures
//   - Performs no retries itself; pacing and retries belong to the rate-limited client
//
// The package depends on Google's google.golang.org/genai client library.
package gemini
