package driven

// Normaliser converts a raw knowledge-base file into Markdown.
// The Markdown parser only ever sees normaliser output.
type Normaliser interface {
	// Normalise transforms raw content into Markdown.
	// The mimeType helps determine the appropriate processing.
	Normalise(content string, mimeType string) (string, error)

	// SupportedTypes returns MIME types this normaliser handles.
	// Can include wildcards like "text/*".
	SupportedTypes() []string

	// Priority returns the normaliser priority (higher = more specific).
	//   50-100: Format-specific (Markdown, HTML)
	//   1-49:   Fallback (plain text)
	Priority() int
}

// NormaliserRegistry manages content normalisers.
// When multiple normalisers match a MIME type, the highest priority one is used.
type NormaliserRegistry interface {
	// Get retrieves the best-matching normaliser for a MIME type.
	// Returns nil if no normaliser is registered for the type.
	Get(mimeType string) Normaliser

	// GetAll retrieves all normalisers that match a MIME type, highest priority first.
	GetAll(mimeType string) []Normaliser

	// Register registers a normaliser.
	Register(normaliser Normaliser)

	// List returns all registered MIME types.
	List() []string
}
