// Package frontmatter reads and edits the YAML front matter block that
// stores a document's reading position inside its associated note.
package frontmatter

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const delim = "---"

// Split separates the YAML front matter block from the note body.
// block is the raw YAML between the delimiter lines (no delimiters), body is
// everything after the closing delimiter line, byte for byte. When no valid
// block is present, body is the whole input and found is false.
func Split(data []byte) (block, body []byte, found bool) {
	if !bytes.HasPrefix(data, []byte(delim)) {
		return nil, data, false
	}
	rest := data[len(delim):]
	nl := bytes.IndexByte(rest, '\n')
	if nl < 0 || strings.TrimSpace(string(rest[:nl])) != "" {
		return nil, data, false
	}
	rest = rest[nl+1:]

	idx := 0
	for idx <= len(rest) {
		end := bytes.IndexByte(rest[idx:], '\n')
		var line []byte
		next := len(rest) + 1
		if end >= 0 {
			line = rest[idx : idx+end]
			next = idx + end + 1
		} else {
			line = rest[idx:]
		}
		if strings.TrimSpace(string(line)) == delim {
			if next > len(rest) {
				return rest[:idx], nil, true
			}
			return rest[:idx], rest[next:], true
		}
		if end < 0 {
			break
		}
		idx = next
	}
	// No closing delimiter: treat everything as body.
	return nil, data, false
}

// Compose reassembles a note from a raw YAML block and a body.
func Compose(block, body []byte) []byte {
	out := make([]byte, 0, len(block)+len(body)+2*len(delim)+2)
	out = append(out, delim...)
	out = append(out, '\n')
	out = append(out, block...)
	if len(block) > 0 && block[len(block)-1] != '\n' {
		out = append(out, '\n')
	}
	out = append(out, delim...)
	out = append(out, '\n')
	return append(out, body...)
}

// Fields parses block into a generic mapping. A nil map with nil error means
// the block is empty; parse failures return the error.
func Fields(block []byte) (map[string]any, error) {
	var fields map[string]any
	if err := yaml.Unmarshal(block, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

// PageFromValue extracts a page index from a front matter value. It accepts
// the legacy bare integer form and the current object form with an integer
// "page" field. Anything else, including negative pages, yields ok=false.
func PageFromValue(v any) (page int, ok bool) {
	switch n := v.(type) {
	case int:
		page, ok = n, true
	case int64:
		page, ok = int(n), true
	case uint64:
		page, ok = int(n), true
	case float64:
		// YAML readers may hand integral values back as floats.
		if n == float64(int(n)) {
			page, ok = int(n), true
		}
	case map[string]any:
		inner, exists := n["page"]
		if !exists {
			return 0, false
		}
		// Only one level of nesting is valid.
		if _, nested := inner.(map[string]any); nested {
			return 0, false
		}
		page, ok = PageFromValue(inner)
	}
	if page < 0 {
		return 0, false
	}
	return page, ok
}

// upsertPage sets key to {page: page} inside data's front matter, preserving
// every other key and the body. changed is false when the stored value
// already equals the new one in both page and shape. Parse failures on an
// existing block are returned so the caller can fall back to a textual patch.
func upsertPage(data []byte, key string, page int) (updated []byte, changed bool, err error) {
	block, body, found := Split(data)
	if !found {
		nb, err := renderBlock(key, page)
		if err != nil {
			return nil, false, err
		}
		return append(nb, data...), true, nil
	}

	root := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	if len(bytes.TrimSpace(block)) > 0 {
		var doc yaml.Node
		if err := yaml.Unmarshal(block, &doc); err != nil {
			return nil, false, err
		}
		if len(doc.Content) > 0 {
			root = doc.Content[0]
		}
		if root.Kind != yaml.MappingNode {
			return nil, false, fmt.Errorf("frontmatter: block is not a mapping")
		}
	}

	replaced := false
	for i := 0; i+1 < len(root.Content); i += 2 {
		if root.Content[i].Value != key {
			continue
		}
		if sameStoredValue(root.Content[i+1], page) {
			return nil, false, nil
		}
		root.Content[i+1] = pageValueNode(page)
		replaced = true
		break
	}
	if !replaced {
		root.Content = append(root.Content, scalarNode(key), pageValueNode(page))
	}

	encoded, err := encodeBlock(root)
	if err != nil {
		return nil, false, err
	}
	return Compose(encoded, body), true, nil
}

// sameStoredValue reports whether node already is {page: page} — the only
// case where a write may be skipped. The legacy bare-number form is always
// rewritten to the object form.
func sameStoredValue(node *yaml.Node, page int) bool {
	if node.Kind != yaml.MappingNode || len(node.Content) != 2 {
		return false
	}
	if node.Content[0].Value != "page" {
		return false
	}
	cur, err := strconv.Atoi(node.Content[1].Value)
	return err == nil && cur == page
}

// patchRaw is the recovery path for malformed front matter: it textually
// removes any existing top-level entry for key from the raw block and
// appends the new value, leaving every other line untouched.
func patchRaw(data []byte, key string, page int) []byte {
	block, body, found := Split(data)
	if !found {
		return data
	}

	var kept []string
	skipping := false
	for _, line := range strings.Split(string(block), "\n") {
		switch {
		case strings.HasPrefix(line, key+":"):
			skipping = true
		case skipping && line != "" && (line[0] == ' ' || line[0] == '\t'):
			// continuation of the replaced entry
		default:
			skipping = false
			kept = append(kept, line)
		}
	}
	// Drop a trailing blank produced by the split.
	for len(kept) > 0 && strings.TrimSpace(kept[len(kept)-1]) == "" {
		kept = kept[:len(kept)-1]
	}
	kept = append(kept, key+":", "  page: "+strconv.Itoa(page))

	return Compose([]byte(strings.Join(kept, "\n")+"\n"), body)
}

// renderBlock produces a complete minimal front matter block for a new note.
func renderBlock(key string, page int) ([]byte, error) {
	root := &yaml.Node{
		Kind:    yaml.MappingNode,
		Tag:     "!!map",
		Content: []*yaml.Node{scalarNode(key), pageValueNode(page)},
	}
	encoded, err := encodeBlock(root)
	if err != nil {
		return nil, err
	}
	return Compose(encoded, nil), nil
}

func encodeBlock(root *yaml.Node) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(root); err != nil {
		return nil, fmt.Errorf("frontmatter: encode: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("frontmatter: encode close: %w", err)
	}
	return buf.Bytes(), nil
}

func scalarNode(s string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: s}
}

func pageValueNode(page int) *yaml.Node {
	return &yaml.Node{
		Kind: yaml.MappingNode,
		Tag:  "!!map",
		Content: []*yaml.Node{
			{Kind: yaml.ScalarNode, Tag: "!!str", Value: "page"},
			{Kind: yaml.ScalarNode, Tag: "!!int", Value: strconv.Itoa(page)},
		},
	}
}
