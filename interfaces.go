package delphi

import "context"

// ModelCaller sends one prompt to one model and returns the raw completion.
// Implement this to route panel calls through a custom backend; the engine's
// retry and circuit-breaker layers still wrap it.
type ModelCaller interface {
	Complete(ctx context.Context, modelID, prompt string) (string, error)
}

// ContextProvider supplies ranked background snippets for a question before
// the panel is dispatched. Implementations own retrieval entirely; the
// engine treats snippets as opaque prompt material. Returning an empty slice
// or an error is fine — agents then answer from their own knowledge.
type ContextProvider interface {
	Context(ctx context.Context, question string, classification Classification) ([]Snippet, error)
}
