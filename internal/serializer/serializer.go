// Package serializer renders nested, ordered response payloads as XML documents.
//
// The input is the same structural value the JSON encoder receives: a top-level
// mapping whose "data" entry holds scalars, sequences (slices/arrays) and ordered
// mappings (Map) nested to any depth. Only the "data" entry is rendered, inside a
// single <api> root element:
//
//	{"data": [{"name": "x"}]}  ->  <api><items><item><name>x</name></item></items></api>
//
// A sequence found under a mapping key K is wrapped in <K> and each entry is named
// with the singular of K ("countries" -> <country>), falling back to <item>.
package serializer

import (
	"encoding"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

const (
	// RootElement wraps every document.
	RootElement = "api"
	// DataKey is the only top-level entry that is rendered.
	DataKey = "data"

	DefaultCollectionTag = "items"
	DefaultItemTag       = "item"
)

// Option customises a Serialize call.
type Option func(*options)

type options struct {
	collectionTag string
	itemTag       string
	err           error
}

// WithWrapperTags overrides the element names used when "data" is a sequence.
// Both names must be given; passing two empty strings keeps the defaults and
// passing exactly one is rejected with ErrPartialWrapperTags.
func WithWrapperTags(collectionTag, itemTag string) Option {
	return func(o *options) {
		switch {
		case collectionTag == "" && itemTag == "":
		case collectionTag == "" || itemTag == "":
			o.err = fmt.Errorf("%w: collection=%q item=%q", ErrPartialWrapperTags, collectionTag, itemTag)
		case !ValidName(collectionTag) || !ValidName(itemTag):
			o.err = fmt.Errorf("%w: collection=%q item=%q", ErrInvalidTagName, collectionTag, itemTag)
		default:
			o.collectionTag = collectionTag
			o.itemTag = itemTag
		}
	}
}

// Serialize converts value into an XML document string. Any error returned is a
// *SerializationError.
func Serialize(value any, opts ...Option) (string, error) {
	o := options{collectionTag: DefaultCollectionTag, itemTag: DefaultItemTag}
	for _, opt := range opts {
		opt(&o)
	}
	if o.err != nil {
		return "", &SerializationError{Err: o.err}
	}

	top, err := asMap(value, "")
	if err != nil {
		return "", err
	}

	w := &writer{}
	w.WriteString(xml.Header)
	w.open(RootElement)
	if data, ok := top.Get(DataKey); ok {
		if isSequence(data) {
			w.open(o.collectionTag)
			if err := w.content(data, o.itemTag, DataKey); err != nil {
				return "", err
			}
			w.close(o.collectionTag)
		} else if err := w.content(data, fallbackEntryTag, DataKey); err != nil {
			return "", err
		}
	}
	w.close(RootElement)

	return w.String(), nil
}

// asMap normalises the top-level value into an ordered Map.
func asMap(value any, path string) (Map, error) {
	switch v := value.(type) {
	case Map:
		return v, nil
	case *Map:
		if v != nil {
			return *v, nil
		}
	default:
		rv := reflect.ValueOf(value)
		if rv.Kind() == reflect.Map && rv.Type().Key().Kind() == reflect.String {
			return sortedMap(rv), nil
		}
	}
	return nil, &SerializationError{Path: path, Err: ErrNotMapping}
}

// sortedMap converts a Go map with string keys into a Map ordered by key.
func sortedMap(rv reflect.Value) Map {
	m := NewMap(rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		m = append(m, Field{Key: iter.Key().String(), Value: iter.Value().Interface()})
	}
	sort.Slice(m, func(i, j int) bool { return m[i].Key < m[j].Key })
	return m
}

func isSequence(v any) bool {
	if v == nil {
		return false
	}
	if _, ok := v.([]byte); ok {
		return false
	}
	if _, ok := v.(Map); ok {
		return false
	}
	k := reflect.TypeOf(v).Kind()
	return k == reflect.Slice || k == reflect.Array
}

type writer struct {
	strings.Builder
	// active holds the references being written on the current path.
	active map[visit]bool
}

type visit struct {
	ptr uintptr
	typ reflect.Type
	len int
}

// enter marks a slice, map or pointer as being written. It fails when the same
// reference is already open further up, which would otherwise recurse forever.
func (w *writer) enter(rv reflect.Value, path string) (visit, bool, error) {
	var n int
	switch rv.Kind() {
	case reflect.Slice:
		n = rv.Len()
		if n == 0 {
			return visit{}, false, nil
		}
	case reflect.Map:
		n = rv.Len()
	case reflect.Pointer:
	default:
		return visit{}, false, nil
	}

	v := visit{ptr: rv.Pointer(), typ: rv.Type(), len: n}
	if w.active[v] {
		return v, false, &SerializationError{Path: path, Err: fmt.Errorf("%w: cyclic %s", ErrUnsupportedValue, rv.Type())}
	}
	if w.active == nil {
		w.active = make(map[visit]bool)
	}
	w.active[v] = true
	return v, true, nil
}

func (w *writer) open(name string) {
	w.WriteByte('<')
	w.WriteString(name)
	w.WriteByte('>')
}

func (w *writer) close(name string) {
	w.WriteString("</")
	w.WriteString(name)
	w.WriteByte('>')
}

func (w *writer) text(s string) {
	// EscapeText only fails when the underlying writer does; strings.Builder never does.
	_ = xml.EscapeText(w, []byte(s))
}

// element writes <name>content</name>.
func (w *writer) element(name string, v any, path string) error {
	w.open(name)
	if err := w.content(v, entryName(name), path); err != nil {
		return err
	}
	w.close(name)
	return nil
}

// content writes the inner content of an element holding v. entry names the
// elements used when v is a sequence.
func (w *writer) content(v any, entry, path string) error {
	if v == nil {
		return nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer && rv.IsNil() {
		return nil
	}
	ref, entered, err := w.enter(rv, path)
	if err != nil {
		return err
	}
	if entered {
		defer delete(w.active, ref)
	}

	switch val := v.(type) {
	case Map:
		for _, f := range val {
			if err := w.element(elementName(f.Key), f.Value, path+"."+f.Key); err != nil {
				return err
			}
		}
		return nil
	case *Map:
		return w.content(*val, entry, path)
	case string:
		w.text(val)
		return nil
	case []byte:
		w.text(string(val))
		return nil
	case json.Number:
		w.text(val.String())
		return nil
	case bool:
		w.text(strconv.FormatBool(val))
		return nil
	case encoding.TextMarshaler:
		b, err := val.MarshalText()
		if err != nil {
			return &SerializationError{Path: path, Err: err}
		}
		w.text(string(b))
		return nil
	}

	switch rv.Kind() {
	case reflect.String:
		w.text(rv.String())
	case reflect.Bool:
		w.text(strconv.FormatBool(rv.Bool()))
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		w.text(strconv.FormatInt(rv.Int(), 10))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		w.text(strconv.FormatUint(rv.Uint(), 10))
	case reflect.Float32:
		w.text(strconv.FormatFloat(rv.Float(), 'f', -1, 32))
	case reflect.Float64:
		w.text(strconv.FormatFloat(rv.Float(), 'f', -1, 64))
	case reflect.Slice, reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			if err := w.element(entry, rv.Index(i).Interface(), fmt.Sprintf("%s[%d]", path, i)); err != nil {
				return err
			}
		}
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return &SerializationError{Path: path, Err: fmt.Errorf("%w: map with %s keys", ErrUnsupportedValue, rv.Type().Key())}
		}
		return w.content(sortedMap(rv), entry, path)
	case reflect.Pointer:
		return w.content(rv.Elem().Interface(), entry, path)
	default:
		return &SerializationError{Path: path, Err: fmt.Errorf("%w: %T", ErrUnsupportedValue, v)}
	}
	return nil
}
