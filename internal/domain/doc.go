// Package domain contains the core entities of the batch runner: the items
// submitted to the generation service, the durable result recorded for each
// of them, and the errors that describe invalid input. It is independent of
// any storage or transport mechanism.
package domain
