// Package embed defines the embedding-generator boundary. The generator is a
// process-scoped resource: one client constructed at worker startup and
// shared read-only across job executions.
package embed

import "context"

// Generator turns a text chunk into a fixed-length vector. Implementations
// must honor ctx cancellation; errors are treated as transient by the worker
// since model backends commonly fail under temporary load.
type Generator interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
