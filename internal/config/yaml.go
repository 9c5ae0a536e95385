package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

type format string

const (
	formatJSON format = "json"
	formatYAML format = "yaml"
)

func formatOf(path string) format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return formatYAML
	default:
		return formatJSON
	}
}

// yamlToJSON re-encodes a single YAML document as JSON so both formats share
// the strict JSON decoder. The document is walked as a node tree: unquoted
// timestamps (run_date: 2030-01-01 10:00:00) keep their source text, so they
// are later read in the scheduler timezone rather than as UTC.
func yamlToJSON(data []byte) ([]byte, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	var doc yaml.Node
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return []byte("{}"), nil
		}
		return nil, err
	}
	var extra yaml.Node
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		if err != nil {
			return nil, err
		}
		return nil, errors.New("multiple YAML documents; a config file holds exactly one")
	}
	v, err := nodeValue(&doc, "")
	if err != nil {
		return nil, err
	}
	if v == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(v)
}

// nodeValue converts a node to JSON-ready values. Mapping keys must be
// strings; "1: x" is an error instead of silently becoming "1".
func nodeValue(n *yaml.Node, at string) (any, error) {
	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return nil, nil
		}
		return nodeValue(n.Content[0], at)
	case yaml.AliasNode:
		return nodeValue(n.Alias, at)
	case yaml.SequenceNode:
		out := make([]any, 0, len(n.Content))
		for i, c := range n.Content {
			v, err := nodeValue(c, fmt.Sprintf("%s[%d]", at, i))
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	case yaml.MappingNode:
		out := make(map[string]any, len(n.Content)/2)
		var merged []map[string]any
		for i := 0; i+1 < len(n.Content); i += 2 {
			k, val := n.Content[i], n.Content[i+1]
			if k.ShortTag() == "!!merge" {
				ms, err := mergeSources(val, at)
				if err != nil {
					return nil, err
				}
				merged = append(merged, ms...)
				continue
			}
			if k.Kind != yaml.ScalarNode || k.ShortTag() != "!!str" {
				return nil, fmt.Errorf("%s: non-string key %q at line %d", orRoot(at), k.Value, k.Line)
			}
			v, err := nodeValue(val, join(at, k.Value))
			if err != nil {
				return nil, err
			}
			out[k.Value] = v
		}
		// Explicit keys win over "<<" merges; earlier merges win over later.
		for _, m := range merged {
			for k, v := range m {
				if _, ok := out[k]; !ok {
					out[k] = v
				}
			}
		}
		return out, nil
	case yaml.ScalarNode:
		if n.ShortTag() == "!!timestamp" {
			return n.Value, nil
		}
		var v any
		if err := n.Decode(&v); err != nil {
			return nil, fmt.Errorf("%s: %w", orRoot(at), err)
		}
		return v, nil
	}
	return nil, fmt.Errorf("%s: unsupported YAML node at line %d", orRoot(at), n.Line)
}

func mergeSources(n *yaml.Node, at string) ([]map[string]any, error) {
	if n.Kind == yaml.SequenceNode {
		var out []map[string]any
		for _, c := range n.Content {
			ms, err := mergeSources(c, at)
			if err != nil {
				return nil, err
			}
			out = append(out, ms...)
		}
		return out, nil
	}
	v, err := nodeValue(n, at)
	if err != nil {
		return nil, err
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%s: merge key needs a mapping", orRoot(at))
	}
	return []map[string]any{m}, nil
}

func join(at, key string) string {
	if at == "" {
		return key
	}
	return at + "." + key
}

func orRoot(at string) string {
	if at == "" {
		return "<root>"
	}
	return at
}
