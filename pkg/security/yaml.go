package security

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// ErrYAMLTooLarge is returned when a YAML document exceeds MaxFileSize
var ErrYAMLTooLarge = errors.New("YAML input too large")

// YAMLLimits defines security limits for YAML parsing
type YAMLLimits struct {
	MaxFileSize  int64 // Maximum file size in bytes
	MaxDepth     int   // Maximum nesting depth
	MaxNodes     int   // Maximum number of nodes
	MaxKeyLength int   // Maximum key length in bytes
	MaxValueSize int64 // Maximum value size in bytes

	// KnownFields rejects mapping keys that have no matching struct field.
	KnownFields bool
}

// DefaultYAMLLimits returns limits sized for small config files
func DefaultYAMLLimits() YAMLLimits {
	return YAMLLimits{
		MaxFileSize:  1024 * 1024, // 1MB
		MaxDepth:     10,
		MaxNodes:     2000,
		MaxKeyLength: 256,
		MaxValueSize: 64 * 1024,
		KnownFields:  true,
	}
}

// SafeYAMLParser provides YAML parsing with resource limits
type SafeYAMLParser struct {
	limits YAMLLimits
}

// NewSafeYAMLParser creates a new YAML parser with security limits
func NewSafeYAMLParser(limits YAMLLimits) *SafeYAMLParser {
	return &SafeYAMLParser{limits: limits}
}

// UnmarshalYAML validates data against the limits, then decodes it into v.
// An empty document leaves v untouched.
func (p *SafeYAMLParser) UnmarshalYAML(data []byte, v any) error {
	if int64(len(data)) > p.limits.MaxFileSize {
		return fmt.Errorf("%w: %d bytes exceeds maximum %d bytes", ErrYAMLTooLarge, len(data), p.limits.MaxFileSize)
	}

	var rootNode yaml.Node
	if err := yaml.NewDecoder(bytes.NewReader(data)).Decode(&rootNode); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("YAML parse error: %w", err)
	}

	validator := &yamlValidator{limits: p.limits}
	if err := validator.validateNode(&rootNode, 0); err != nil {
		return err
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(p.limits.KnownFields)
	if err := decoder.Decode(v); err != nil {
		return fmt.Errorf("YAML decode error: %w", err)
	}
	return nil
}

// UnmarshalYAMLFromReader reads at most MaxFileSize+1 bytes from r and
// unmarshals them.
func (p *SafeYAMLParser) UnmarshalYAMLFromReader(r io.Reader, v any) error {
	limitedReader := io.LimitedReader{
		R: r,
		N: p.limits.MaxFileSize + 1, // one extra byte to detect overflow
	}

	data, err := io.ReadAll(&limitedReader)
	if err != nil {
		return fmt.Errorf("failed to read YAML: %w", err)
	}

	return p.UnmarshalYAML(data, v)
}

// yamlValidator validates YAML structure against security limits
type yamlValidator struct {
	limits    YAMLLimits
	nodeCount int
}

func (v *yamlValidator) validateNode(node *yaml.Node, depth int) error {
	if depth > v.limits.MaxDepth {
		return fmt.Errorf("YAML nesting depth %d exceeds maximum %d", depth, v.limits.MaxDepth)
	}

	v.nodeCount++
	if v.nodeCount > v.limits.MaxNodes {
		return fmt.Errorf("YAML node count %d exceeds maximum %d", v.nodeCount, v.limits.MaxNodes)
	}

	switch node.Kind {
	case yaml.DocumentNode:
		for _, child := range node.Content {
			if err := v.validateNode(child, depth); err != nil {
				return err
			}
		}

	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			keyNode := node.Content[i]
			if len(keyNode.Value) > v.limits.MaxKeyLength {
				return fmt.Errorf("YAML key length %d exceeds maximum %d", len(keyNode.Value), v.limits.MaxKeyLength)
			}
			if err := v.validateNode(keyNode, depth+1); err != nil {
				return err
			}
			if err := v.validateNode(node.Content[i+1], depth+1); err != nil {
				return err
			}
		}

	case yaml.SequenceNode:
		for _, child := range node.Content {
			if err := v.validateNode(child, depth+1); err != nil {
				return err
			}
		}

	case yaml.ScalarNode:
		if int64(len(node.Value)) > v.limits.MaxValueSize {
			return fmt.Errorf("YAML value size %d bytes exceeds maximum %d bytes", len(node.Value), v.limits.MaxValueSize)
		}

	case yaml.AliasNode:
		// Aliases count against the node budget each time they are expanded.
		if node.Alias != nil {
			if err := v.validateNode(node.Alias, depth+1); err != nil {
				return err
			}
		}
	}

	return nil
}
