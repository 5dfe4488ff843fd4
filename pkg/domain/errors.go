package domain

import "errors"

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrModelNotFound      = errors.New("model not installed")
	ErrGenerationFailed   = errors.New("text generation failed")
	ErrEmptyResponse      = errors.New("model generated empty response")
	ErrEmbeddingFailed    = errors.New("embedding generation failed")
	ErrVectorStoreFailed  = errors.New("vector store operation failed")
	ErrConversionFailed   = errors.New("document conversion failed")
	ErrArtifactInvalid    = errors.New("conversion artifact invalid")
	ErrDocumentNotFound   = errors.New("document not found")
	ErrCancelled          = errors.New("operation cancelled")
	ErrConfigurationError = errors.New("configuration error")
)
