package domain

import (
	"context"
	"iter"
)

// Generator produces text from a prompt, either whole or as a stream of fragments.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	GenerateStream(ctx context.Context, prompt string) (FragmentStream, error)
}

// FragmentStream is a finite, non-restartable sequence of generated text fragments.
// Abandoning it (Close, or breaking out of Fragments) releases the upstream connection.
// Err reports why the sequence ended and is valid once Fragments is exhausted.
type FragmentStream interface {
	Fragments() iter.Seq[string]
	Err() error
	Close() error
}
