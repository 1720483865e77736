package scanning

import "context"

// Recognizer turns a receipt image into the text printed on it. Resource
// lifetime (Close) is managed by the caller.
type Recognizer interface {
	// RecognizeText transcribes all visible text in a receipt image or PDF.
	RecognizeText(ctx context.Context, imageData []byte, contentType string) (string, error)
	// Close releases any resources held by the recognizer.
	Close() error
}
