package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// SaveBus updates the bus section of the config file.
// This preserves comments and formatting in other sections by using yaml.Node.
func SaveBus(configPath string, bus BusConfig) error {
	if err := ValidateBus(bus); err != nil {
		return err
	}
	return saveSection(configPath, "bus", map[string]any{
		"mailbox_size":       bus.MailboxSize,
		"overflow":           bus.Overflow,
		"diagnostics_buffer": bus.DiagnosticsBuffer,
	})
}

// SaveTickerThresholds updates ticker.high and ticker.low, leaving the rest
// of the ticker section as it is.
func SaveTickerThresholds(configPath string, high, low float64) error {
	if low >= high {
		return fmt.Errorf("ticker.low (%v) must be below ticker.high (%v)", low, high)
	}

	doc, err := readDocument(configPath)
	if err != nil {
		return err
	}
	ticker := mappingValue(rootMapping(doc), "ticker")
	if ticker == nil || ticker.Kind != yaml.MappingNode {
		ticker = &yaml.Node{Kind: yaml.MappingNode}
		setMappingValue(rootMapping(doc), "ticker", ticker)
	}

	for key, v := range map[string]float64{"high": high, "low": low} {
		var n yaml.Node
		if err := n.Encode(v); err != nil {
			return fmt.Errorf("encoding ticker.%s: %w", key, err)
		}
		setMappingValue(ticker, key, &n)
	}
	return writeDocument(configPath, doc)
}

func saveSection(configPath, key string, value any) error {
	doc, err := readDocument(configPath)
	if err != nil {
		return err
	}

	var section yaml.Node
	if err := section.Encode(value); err != nil {
		return fmt.Errorf("building %s node: %w", key, err)
	}
	setMappingValue(rootMapping(doc), key, &section)
	return writeDocument(configPath, doc)
}

// readDocument parses configPath into a document node. A missing or empty
// file yields a document with an empty root mapping.
func readDocument(configPath string) (*yaml.Node, error) {
	data, err := os.ReadFile(configPath)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var doc yaml.Node
	if len(bytes.TrimSpace(data)) > 0 {
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}
	if doc.Kind == 0 || len(doc.Content) == 0 {
		doc = yaml.Node{
			Kind:    yaml.DocumentNode,
			Content: []*yaml.Node{{Kind: yaml.MappingNode}},
		}
	}
	if doc.Content[0].Kind != yaml.MappingNode {
		return nil, fmt.Errorf("parsing config: top level must be a mapping")
	}
	return &doc, nil
}

func rootMapping(doc *yaml.Node) *yaml.Node {
	return doc.Content[0]
}

func mappingValue(m *yaml.Node, key string) *yaml.Node {
	for i := 0; i < len(m.Content)-1; i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i+1]
		}
	}
	return nil
}

// setMappingValue replaces the value for key, or appends the pair. Comments
// attached to an existing value are kept on the replacement.
func setMappingValue(m *yaml.Node, key string, value *yaml.Node) {
	for i := 0; i < len(m.Content)-1; i += 2 {
		if m.Content[i].Value == key {
			old := m.Content[i+1]
			if value.LineComment == "" {
				value.LineComment = old.LineComment
			}
			m.Content[i+1] = value
			return
		}
	}
	m.Content = append(m.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Value: key},
		value,
	)
}

// writeDocument marshals doc and writes it atomically (temp file, then rename).
func writeDocument(configPath string, doc *yaml.Node) error {
	var buf bytes.Buffer
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(doc); err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	_ = encoder.Close()

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	temp, err := os.CreateTemp(dir, ".fanout.yaml.tmp.*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tempPath := temp.Name()

	if _, err := temp.Write(buf.Bytes()); err != nil {
		_ = temp.Close()
		_ = os.Remove(tempPath)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := temp.Close(); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Rename(tempPath, configPath); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}
