// Package testutil provides in-memory fakes for the feed and destination
// adapters so orchestrator behavior can be tested without network access.
package testutil
