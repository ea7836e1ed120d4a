// SPDX-License-Identifier: MIT

package machines

import (
	"bytes"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

const machinesKey = "machines"

// Document is the format-preserving in-memory representation of machines.yaml.
// It keeps the full yaml.Node tree so that comments, key order and document
// structure survive a load→mutate→persist cycle for every untouched node.
type Document struct {
	root *yaml.Node
}

// NewDocument returns an empty document with an empty machines list.
func NewDocument() *Document {
	seq := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
	mapping := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	mappingSet(mapping, machinesKey, seq)
	return &Document{root: &yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{mapping}}}
}

// ParseDocument parses raw YAML into a Document. Empty input yields an empty
// document. The top level must be a mapping when present.
func ParseDocument(data []byte) (*Document, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, err
	}
	if len(root.Content) == 0 {
		return NewDocument(), nil
	}
	if root.Content[0].Kind != yaml.MappingNode {
		return nil, fmt.Errorf("top-level node is not a mapping")
	}
	return &Document{root: &root}, nil
}

// Encode serializes the document with the canonical 2-space indent.
func (d *Document) Encode() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(d.root.Content[0]); err != nil {
		return nil, fmt.Errorf("encode machines document: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("close encoder: %w", err)
	}
	return buf.Bytes(), nil
}

// Clone deep-copies the document so a mutation can be prepared and persisted
// without exposing a half-mutated tree to concurrent readers.
func (d *Document) Clone() *Document {
	return &Document{root: cloneNode(d.root)}
}

// machineSeq returns the machines sequence node, or nil when the key is
// absent or not a sequence.
func (d *Document) machineSeq() *yaml.Node {
	v, ok := mappingGet(d.root.Content[0], machinesKey)
	if !ok || v.Kind != yaml.SequenceNode {
		return nil
	}
	return v
}

// ensureMachineSeq returns the machines sequence node, creating it when the
// key is missing. A present non-sequence value is an error.
func (d *Document) ensureMachineSeq() (*yaml.Node, error) {
	if v, ok := mappingGet(d.root.Content[0], machinesKey); ok {
		if v.Kind == yaml.SequenceNode {
			return v, nil
		}
		// A null value ("machines:") counts as an empty list.
		if v.Kind == yaml.ScalarNode && v.Tag == "!!null" {
			*v = yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
			return v, nil
		}
		return nil, fmt.Errorf("%q is not a sequence", machinesKey)
	}
	seq := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
	mappingSet(d.root.Content[0], machinesKey, seq)
	return seq, nil
}

// Records decodes all machine entries in file order.
func (d *Document) Records() ([]Record, error) {
	seq := d.machineSeq()
	if seq == nil {
		return []Record{}, nil
	}
	out := make([]Record, 0, len(seq.Content))
	for _, node := range seq.Content {
		var rec Record
		if err := node.Decode(&rec); err != nil {
			return nil, fmt.Errorf("decode machine entry: %w", err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// find returns the node and sequence index of the machine with the given id.
func (d *Document) find(id string) (*yaml.Node, int) {
	seq := d.machineSeq()
	if seq == nil {
		return nil, -1
	}
	for i, node := range seq.Content {
		if v, ok := mappingGet(node, "id"); ok && v.Kind == yaml.ScalarNode && v.Value == id {
			return node, i
		}
	}
	return nil, -1
}

// Get decodes the machine with the given id.
func (d *Document) Get(id string) (Record, error) {
	node, _ := d.find(id)
	if node == nil {
		return nil, ErrNotFound
	}
	var rec Record
	if err := node.Decode(&rec); err != nil {
		return nil, fmt.Errorf("decode machine %q: %w", id, err)
	}
	return rec, nil
}

// Append adds a new machine record at the end of the list. The id field is
// emitted first; remaining fields are emitted in sorted order.
func (d *Document) Append(rec Record) error {
	seq, err := d.ensureMachineSeq()
	if err != nil {
		return err
	}
	node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	if err := setField(node, "id", rec.ID()); err != nil {
		return err
	}
	keys := make([]string, 0, len(rec))
	for k := range rec {
		if k == "id" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := setField(node, k, rec[k]); err != nil {
			return err
		}
	}
	seq.Content = append(seq.Content, node)
	return nil
}

// Merge overwrites exactly the fields present in partial on the machine with
// the given id. Fields absent from partial are left untouched, comments on
// overwritten values are retained, and the id field is never altered.
func (d *Document) Merge(id string, partial Record) (Record, error) {
	node, _ := d.find(id)
	if node == nil {
		return nil, ErrNotFound
	}
	keys := make([]string, 0, len(partial))
	for k := range partial {
		if k == "id" {
			// Identity comes from the lookup key only.
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := setField(node, k, partial[k]); err != nil {
			return nil, err
		}
	}
	var merged Record
	if err := node.Decode(&merged); err != nil {
		return nil, fmt.Errorf("decode merged machine %q: %w", id, err)
	}
	return merged, nil
}

// Remove deletes exactly the machine node with the given id. Comments that
// yaml attached to the removed entry are re-anchored to a neighbour so hand
// annotations survive the deletion.
func (d *Document) Remove(id string) error {
	node, i := d.find(id)
	if node == nil {
		return ErrNotFound
	}
	seq := d.machineSeq()
	orphaned := joinComments(node.HeadComment, node.FootComment)
	seq.Content = append(seq.Content[:i], seq.Content[i+1:]...)
	if orphaned == "" {
		return nil
	}
	switch {
	case i < len(seq.Content):
		seq.Content[i].HeadComment = joinComments(orphaned, seq.Content[i].HeadComment)
	case len(seq.Content) > 0:
		last := seq.Content[len(seq.Content)-1]
		last.FootComment = joinComments(last.FootComment, orphaned)
	default:
		seq.FootComment = joinComments(seq.FootComment, orphaned)
	}
	return nil
}

// mappingGet returns the value node for key in a mapping node.
func mappingGet(m *yaml.Node, key string) (*yaml.Node, bool) {
	if m == nil || m.Kind != yaml.MappingNode {
		return nil, false
	}
	for i := 0; i < len(m.Content)-1; i += 2 {
		k := m.Content[i]
		if k.Kind == yaml.ScalarNode && k.Value == key {
			return m.Content[i+1], true
		}
	}
	return nil, false
}

// mappingSet replaces the value for key, or appends the pair when absent.
func mappingSet(m *yaml.Node, key string, value *yaml.Node) {
	if m == nil || m.Kind != yaml.MappingNode {
		return
	}
	for i := 0; i < len(m.Content)-1; i += 2 {
		k := m.Content[i]
		if k.Kind == yaml.ScalarNode && k.Value == key {
			m.Content[i+1] = value
			return
		}
	}
	m.Content = append(m.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}, value)
}

// setField encodes value into the mapping under key. When the key already
// exists the existing node is re-encoded in place so its comments survive.
func setField(m *yaml.Node, key string, value any) error {
	if v, ok := mappingGet(m, key); ok {
		head, line, foot := v.HeadComment, v.LineComment, v.FootComment
		*v = yaml.Node{}
		if err := v.Encode(value); err != nil {
			return fmt.Errorf("encode field %q: %w", key, err)
		}
		v.HeadComment, v.LineComment, v.FootComment = head, line, foot
		return nil
	}
	v := &yaml.Node{}
	if err := v.Encode(value); err != nil {
		return fmt.Errorf("encode field %q: %w", key, err)
	}
	m.Content = append(m.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}, v)
	return nil
}

func cloneNode(n *yaml.Node) *yaml.Node {
	if n == nil {
		return nil
	}
	out := *n
	if len(n.Content) > 0 {
		out.Content = make([]*yaml.Node, len(n.Content))
		for i, c := range n.Content {
			out.Content[i] = cloneNode(c)
		}
	}
	return &out
}

func joinComments(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	default:
		return a + "\n" + b
	}
}
