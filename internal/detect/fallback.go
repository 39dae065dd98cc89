package detect

import (
	"context"
	"errors"

	"github.com/Iron-Ham/klaus/internal/logging"
)

// Fallback asks Primary first and falls back to the keyword Detector when
// Primary is nil or returns an error. Cancellation is not masked.
type Fallback struct {
	Primary  Classifier
	Keywords *Detector
	Logger   *logging.Logger
}

// NewFallback creates a Fallback around primary.
func NewFallback(primary Classifier, logger *logging.Logger) *Fallback {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Fallback{Primary: primary, Keywords: NewDetector(), Logger: logger}
}

// Classify implements Classifier.
func (f *Fallback) Classify(ctx context.Context, logs, code string) (Verdict, error) {
	if f.Primary != nil {
		v, err := f.Primary.Classify(ctx, logs, code)
		if err == nil {
			return v, nil
		}
		if errors.Is(err, context.Canceled) {
			return Verdict{}, err
		}
		f.Logger.Warn("log classifier unavailable, using keyword detector", "error", err.Error())
	}
	kw := f.Keywords
	if kw == nil {
		kw = NewDetector()
	}
	return kw.Detect(logs), nil
}
