package reporting

import (
	"fmt"
	"io"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/consentscope/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// JSONReporter buffers results and writes them on Close: a single object
// for one analysis, an array for several.
type JSONReporter struct {
	w       io.WriteCloser
	results []*schemas.AnalysisResult
}

// NewJSONReporter takes ownership of w.
func NewJSONReporter(w io.WriteCloser) *JSONReporter {
	return &JSONReporter{w: w}
}

func (r *JSONReporter) Write(result *schemas.AnalysisResult) error {
	if result == nil {
		return fmt.Errorf("cannot report a nil analysis")
	}
	r.results = append(r.results, result)
	return nil
}

func (r *JSONReporter) Close() error {
	var payload any = r.results
	if len(r.results) == 1 {
		payload = r.results[0]
	}
	enc := json.NewEncoder(r.w)
	enc.SetIndent("", "  ")
	encErr := enc.Encode(payload)
	closeErr := r.w.Close()
	if encErr != nil {
		return fmt.Errorf("failed to encode json report: %w", encErr)
	}
	return closeErr
}
