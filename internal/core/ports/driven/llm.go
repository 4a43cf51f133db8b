package driven

import "context"

// LLMService is the external inference collaborator used to answer
// questions over retrieved context. When nil, the ask command is disabled
// but search keeps working.
type LLMService interface {
	// Complete produces an answer to the prompt grounded in the supplied
	// context passages.
	Complete(ctx context.Context, prompt string, contextText string) (string, error)

	// ModelName returns the model identifier for diagnostics.
	ModelName() string

	// Close releases resources.
	Close() error
}
