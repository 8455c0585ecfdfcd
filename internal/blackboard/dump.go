// Package blackboard projects subtree blackboards into the compact
// binary document returned by blackboard requests.
package blackboard

import (
	"bytes"
	"fmt"
	"reflect"
	"weak"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/tamzrod/bt-monitor/internal/tree"
)

// Dumper resolves subtree names through weak references,
// so it never keeps a subtree alive on its own.
type Dumper struct {
	refs map[string]weak.Pointer[tree.Subtree]
}

// NewDumper indexes subtrees by their client-facing name.
func NewDumper(subtrees []*tree.Subtree) *Dumper {
	d := &Dumper{refs: make(map[string]weak.Pointer[tree.Subtree], len(subtrees))}
	for _, st := range subtrees {
		d.refs[st.Name()] = weak.Make(st)
	}
	return d
}

// Names lists the subtree names known at construction.
func (d *Dumper) Names() []string {
	out := make([]string, 0, len(d.refs))
	for n := range d.refs {
		out = append(out, n)
	}
	return out
}

// Document is the decoded form of a dump: subtree name -> key -> value.
type Document map[string]map[string]any

// Collect builds the document for names. Unknown names, expired subtrees
// and subtrees without a blackboard are returned in skipped.
func (d *Dumper) Collect(names []string) (doc Document, skipped []string) {
	doc = make(Document, len(names))

	for _, name := range names {
		ref, ok := d.refs[name]
		if !ok {
			skipped = append(skipped, name)
			continue
		}
		st := ref.Value()
		if st == nil || st.Blackboard == nil {
			skipped = append(skipped, name)
			continue
		}

		entries := make(map[string]any)
		for _, key := range st.Blackboard.Keys() {
			if v, ok := st.Blackboard.Get(key); ok {
				entries[key] = Project(v)
			}
		}
		doc[name] = entries
	}

	return doc, skipped
}

// Dump encodes the document for names as MessagePack with sorted map keys.
func (d *Dumper) Dump(names []string) ([]byte, []string, error) {
	doc, skipped := d.Collect(names)

	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(doc); err != nil {
		return nil, skipped, fmt.Errorf("blackboard: encode: %w", err)
	}
	return buf.Bytes(), skipped, nil
}

// Decode parses the output of Dump. Integers come back as int64 or uint64.
func Decode(b []byte) (Document, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(b))
	dec.UseLooseInterfaceDecoding(true)

	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("blackboard: decode: %w", err)
	}
	return doc, nil
}

// MaxDepth bounds container nesting in Project. Deeper values, including
// self-referencing ones, are replaced by their type name.
const MaxDepth = 32

// Project maps a stored value onto something every client can read:
// scalars pass through, containers are projected element-wise,
// anything else becomes its printable form.
func Project(v any) any {
	return project(v, 0)
}

func project(v any, depth int) any {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer && rv.IsNil() {
		return nil
	}

	switch x := v.(type) {
	case nil:
		return nil
	case bool, string,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return x
	case []byte:
		return string(x)
	case fmt.Stringer:
		return x.String()
	case error:
		return x.Error()
	}

	if depth >= MaxDepth {
		return fmt.Sprintf("%T", v)
	}

	switch rv.Kind() {
	case reflect.Bool:
		return rv.Bool()
	case reflect.String:
		return rv.String()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint()
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = project(rv.Index(i).Interface(), depth+1)
		}
		return out
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			break
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = project(iter.Value().Interface(), depth+1)
		}
		return out
	case reflect.Pointer:
		return project(rv.Elem().Interface(), depth+1)
	}

	return fmt.Sprint(v)
}
