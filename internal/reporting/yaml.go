package reporting

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/consentscope/api/schemas"
)

// YAMLReporter writes one YAML document per analysis. Keys and their order
// follow the JSON encoding.
type YAMLReporter struct {
	w   io.WriteCloser
	enc *yaml.Encoder
}

// NewYAMLReporter takes ownership of w.
func NewYAMLReporter(w io.WriteCloser) *YAMLReporter {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	return &YAMLReporter{w: w, enc: enc}
}

func (r *YAMLReporter) Write(result *schemas.AnalysisResult) error {
	node, err := toYAMLNode(result)
	if err != nil {
		return err
	}
	if err := r.enc.Encode(node); err != nil {
		return fmt.Errorf("failed to encode yaml report: %w", err)
	}
	return nil
}

func (r *YAMLReporter) Close() error {
	encErr := r.enc.Close()
	closeErr := r.w.Close()
	if encErr != nil {
		return encErr
	}
	return closeErr
}

// toYAMLNode reuses the JSON field names. JSON is valid YAML, so the encoded
// document parses straight into a node tree; resetting the styles turns the
// flow syntax into block syntax.
func toYAMLNode(result *schemas.AnalysisResult) (*yaml.Node, error) {
	if result == nil {
		return nil, fmt.Errorf("cannot report a nil analysis")
	}
	b, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to encode analysis: %w", err)
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("failed to convert analysis to yaml: %w", err)
	}
	blockStyle(&doc)
	return &doc, nil
}

func blockStyle(n *yaml.Node) {
	n.Style = 0
	for _, c := range n.Content {
		blockStyle(c)
	}
}
