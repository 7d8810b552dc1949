// Package ciutil provides environment detection for tests and tooling that
// need to find files checked into the repository, such as the shipped
// prompt templates, regardless of the working directory or CI provider.
package ciutil
