package signals

import (
	"errors"
	"fmt"

	"github.com/xkilldash9x/consentscope/api/schemas"
)

// ErrMalformedSignalInput is returned when an extractor receives structurally
// invalid data. Absence of a signal is never an error.
var ErrMalformedSignalInput = errors.New("malformed signal input")

func validate(c *schemas.CrawlResult) error {
	if c == nil {
		return fmt.Errorf("%w: nil crawl result", ErrMalformedSignalInput)
	}
	if c.URL == "" && c.FinalURL == "" {
		return fmt.Errorf("%w: crawl result has no URL", ErrMalformedSignalInput)
	}
	return nil
}
