// Package reporting renders AnalysisResults for people and machines.
package reporting

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/xkilldash9x/consentscope/api/schemas"
)

// Supported output formats.
const (
	FormatJSON     = "json"
	FormatMarkdown = "markdown"
	FormatYAML     = "yaml"
)

// Reporter defines the interface for writing analysis results to an output.
type Reporter interface {
	// Write processes a single analysis.
	Write(result *schemas.AnalysisResult) error
	// Close finalizes the report and closes any underlying resources (e.g., file handles).
	Close() error
}

// nopWriteCloser wraps an io.Writer and provides a no-op Close method.
type nopWriteCloser struct {
	io.Writer
}

func (nwc *nopWriteCloser) Close() error {
	return nil
}

// Formats lists the accepted format names.
func Formats() []string {
	return []string{FormatJSON, FormatMarkdown, FormatYAML}
}

// New creates a new reporter based on the specified format and output path.
func New(format, outputPath string) (Reporter, error) {
	format = normalizeFormat(format)
	switch format {
	case FormatJSON, FormatMarkdown, FormatYAML:
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}

	var writer io.WriteCloser
	if outputPath == "" || outputPath == "stdout" {
		// Wrap Stdout so Close() is a no-op.
		writer = &nopWriteCloser{os.Stdout}
	} else {
		f, err := os.Create(outputPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create output file %s: %w", outputPath, err)
		}
		writer = f
	}
	return NewWithWriter(format, writer)
}

// NewWithWriter builds a reporter that takes ownership of w.
func NewWithWriter(format string, w io.WriteCloser) (Reporter, error) {
	switch normalizeFormat(format) {
	case FormatJSON:
		return NewJSONReporter(w), nil
	case FormatMarkdown:
		return NewMarkdownReporter(w), nil
	case FormatYAML:
		return NewYAMLReporter(w), nil
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
}

func normalizeFormat(f string) string {
	f = strings.ToLower(strings.TrimSpace(f))
	switch f {
	case "md":
		return FormatMarkdown
	case "yml":
		return FormatYAML
	}
	return f
}
