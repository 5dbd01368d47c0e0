// Package noop provides a publisher that drops messages, for deployments
// without a broker and for tests.
package noop

import (
	"context"
	"log"
)

// Publisher accepts every message and discards it.
type Publisher struct {
	// Quiet suppresses the per-message log line.
	Quiet bool
}

// Publish logs and drops the message.
func (p *Publisher) Publish(_ context.Context, destination, key string, _ []byte) error {
	if !p.Quiet {
		log.Printf("noop publisher: dropping message for %s key=%s", destination, key)
	}
	return nil
}

// Close is a no-op.
func (p *Publisher) Close() error { return nil }
