package core

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"
)

// This file is the serialization bridge. It encodes an arbitrary value T
// to (bytes, handle vector) by walking it with reflect, diverting every
// embedded HandleCarrier into the handle vector and leaving a small
// integer placeholder in its place in the byte payload; decode runs the
// walk in reverse against a statically-known destination type. The walk is
// what makes plain encoding/json usable for the rest of the value:
// Sender[T]/Receiver[T]/etc. cannot survive a pure byte encoding, but
// everything around them can.

var (
	handleCarrierType  = reflect.TypeOf((*HandleCarrier)(nil)).Elem()
	handleImporterType = reflect.TypeOf((*HandleImporter)(nil)).Elem()
)

// handlePlaceholder is the JSON shape a diverted handle takes in the byte
// payload: an index into the parallel handle vector, plus whatever metadata
// the out-of-band fd itself cannot carry. SCM_RIGHTS transmits only the raw
// descriptor, so a shared-memory region's length has nowhere to travel but
// in-band with the rest of the payload; it rides alongside the index here
// and is merged back into the HandleDescriptor handed to
// HandleImporter.IPCImportHandle.
type handlePlaceholder struct {
	HandleRef int `json:"handleRef"`
	Len       int `json:"len,omitempty"`
}

var carryCache sync.Map // map[reflect.Type]bool

// mayCarryHandle reports whether a value of type t could, anywhere in its
// structure, contain a HandleCarrier. The result is memoized per type: the
// check is purely structural and types are stable for the life of the
// process. Message values are tree-shaped by construction, but the *type
// graph* can still be self-referential (e.g. a linked-list node type), so
// the uncached walk still needs a visited-set to terminate.
func mayCarryHandle(t reflect.Type) bool {
	if v, ok := carryCache.Load(t); ok {
		return v.(bool)
	}
	result := mayCarryHandleUncached(t, map[reflect.Type]bool{})
	carryCache.Store(t, result)
	return result
}

func mayCarryHandleUncached(t reflect.Type, seen map[reflect.Type]bool) bool {
	if t == nil {
		return false
	}
	if t.Implements(handleCarrierType) || reflect.PointerTo(t).Implements(handleCarrierType) {
		return true
	}
	if seen[t] {
		return false
	}
	seen[t] = true
	switch t.Kind() {
	case reflect.Ptr:
		return mayCarryHandleUncached(t.Elem(), seen)
	case reflect.Slice, reflect.Array:
		return mayCarryHandleUncached(t.Elem(), seen)
	case reflect.Map:
		return mayCarryHandleUncached(t.Key(), seen) || mayCarryHandleUncached(t.Elem(), seen)
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if f.PkgPath != "" { // unexported, unreachable via reflect anyway
				continue
			}
			if mayCarryHandleUncached(f.Type, seen) {
				return true
			}
		}
		return false
	case reflect.Interface:
		// The dynamic value behind an interface field is unknown until
		// encode time; stay conservative rather than risk silently
		// dropping a handle.
		return true
	default:
		return false
	}
}

// Encode converts v into a JSON payload plus an ordered vector of handle
// descriptors for every embedded HandleCarrier found while walking v.
func Encode(v any) ([]byte, []HandleDescriptor, error) {
	var sink []HandleDescriptor
	tree, err := encodeValue(reflect.ValueOf(v), &sink)
	if err != nil {
		return nil, nil, err
	}
	payload, err := json.Marshal(tree)
	if err != nil {
		return nil, nil, err
	}
	return payload, sink, nil
}

func encodeValue(rv reflect.Value, sink *[]HandleDescriptor) (any, error) {
	if !rv.IsValid() {
		return nil, nil
	}
	t := rv.Type()
	if !mayCarryHandle(t) {
		return rv.Interface(), nil
	}
	if hc, ok := asHandleCarrier(rv); ok {
		desc, err := hc.IPCExportHandle()
		if err != nil {
			return nil, err
		}
		idx := len(*sink)
		*sink = append(*sink, desc)
		return handlePlaceholder{HandleRef: idx, Len: desc.Len}, nil
	}
	switch t.Kind() {
	case reflect.Ptr:
		if rv.IsNil() {
			return nil, nil
		}
		return encodeValue(rv.Elem(), sink)
	case reflect.Interface:
		if rv.IsNil() {
			return nil, nil
		}
		return encodeValue(rv.Elem(), sink)
	case reflect.Slice:
		if rv.IsNil() {
			return nil, nil
		}
		out := make([]any, rv.Len())
		for i := range out {
			v, err := encodeValue(rv.Index(i), sink)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case reflect.Array:
		out := make([]any, rv.Len())
		for i := range out {
			v, err := encodeValue(rv.Index(i), sink)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case reflect.Map:
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			v, err := encodeValue(iter.Value(), sink)
			if err != nil {
				return nil, err
			}
			out[fmt.Sprint(iter.Key().Interface())] = v
		}
		return out, nil
	case reflect.Struct:
		out := make(map[string]any, t.NumField())
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if f.PkgPath != "" {
				continue
			}
			name, skip := jsonFieldName(f)
			if skip {
				continue
			}
			v, err := encodeValue(rv.Field(i), sink)
			if err != nil {
				return nil, err
			}
			out[name] = v
		}
		return out, nil
	default:
		return rv.Interface(), nil
	}
}

func asHandleCarrier(rv reflect.Value) (HandleCarrier, bool) {
	if rv.Type().Implements(handleCarrierType) {
		hc, ok := rv.Interface().(HandleCarrier)
		return hc, ok
	}
	if rv.CanAddr() && reflect.PointerTo(rv.Type()).Implements(handleCarrierType) {
		hc, ok := rv.Addr().Interface().(HandleCarrier)
		return hc, ok
	}
	return nil, false
}

func asHandleImporter(dst reflect.Value) (HandleImporter, bool) {
	if !dst.CanAddr() {
		return nil, false
	}
	if reflect.PointerTo(dst.Type()).Implements(handleImporterType) {
		imp, ok := dst.Addr().Interface().(HandleImporter)
		return imp, ok
	}
	return nil, false
}

// handleSource hands out descriptors to handle wrappers during a single
// Decode call, in the order Encode registered them.
type handleSource struct {
	handles []HandleDescriptor
	next    int
}

func (s *handleSource) take() (HandleDescriptor, error) {
	if s.next >= len(s.handles) {
		return HandleDescriptor{}, ErrMalformed
	}
	d := s.handles[s.next]
	s.next++
	return d, nil
}

// Decode reconstructs *out (a non-nil pointer) from payload and handles,
// rebinding each diverted handle to its concrete carrier type.
func Decode(payload []byte, handles []HandleDescriptor, out any) error {
	rv := reflect.ValueOf(out)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return fmt.Errorf("ipc: Decode requires a non-nil pointer")
	}
	var generic any
	if err := json.Unmarshal(payload, &generic); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	source := &handleSource{handles: handles}
	if err := decodeValue(rv.Elem(), generic, source); err != nil {
		return err
	}
	if source.next != len(handles) {
		return fmt.Errorf("%w: %d handles sent, %d consumed", ErrMalformed, len(handles), source.next)
	}
	return nil
}

func decodeValue(dst reflect.Value, raw any, source *handleSource) error {
	t := dst.Type()
	if !mayCarryHandle(t) {
		return remarshalInto(dst, raw)
	}
	if imp, ok := asHandleImporter(dst); ok {
		obj, ok := raw.(map[string]any)
		if !ok {
			return fmt.Errorf("%w: expected handle reference for %s", ErrMalformed, t)
		}
		if _, ok := obj["handleRef"]; !ok {
			return fmt.Errorf("%w: expected handle reference for %s", ErrMalformed, t)
		}
		desc, err := source.take()
		if err != nil {
			return err
		}
		if l, ok := obj["len"]; ok {
			if lf, ok := l.(float64); ok {
				desc.Len = int(lf)
			}
		}
		return imp.IPCImportHandle(desc)
	}
	switch t.Kind() {
	case reflect.Ptr:
		if raw == nil {
			dst.Set(reflect.Zero(t))
			return nil
		}
		elem := reflect.New(t.Elem())
		if err := decodeValue(elem.Elem(), raw, source); err != nil {
			return err
		}
		dst.Set(elem)
		return nil
	case reflect.Interface:
		if raw == nil {
			return nil
		}
		return remarshalInto(dst, raw)
	case reflect.Slice:
		if raw == nil {
			dst.Set(reflect.Zero(t))
			return nil
		}
		list, ok := raw.([]any)
		if !ok {
			return fmt.Errorf("%w: expected array for %s", ErrMalformed, t)
		}
		out := reflect.MakeSlice(t, len(list), len(list))
		for i, elemRaw := range list {
			if err := decodeValue(out.Index(i), elemRaw, source); err != nil {
				return err
			}
		}
		dst.Set(out)
		return nil
	case reflect.Array:
		list, ok := raw.([]any)
		if !ok || len(list) != t.Len() {
			return fmt.Errorf("%w: array length mismatch for %s", ErrMalformed, t)
		}
		for i, elemRaw := range list {
			if err := decodeValue(dst.Index(i), elemRaw, source); err != nil {
				return err
			}
		}
		return nil
	case reflect.Map:
		if raw == nil {
			dst.Set(reflect.Zero(t))
			return nil
		}
		obj, ok := raw.(map[string]any)
		if !ok {
			return fmt.Errorf("%w: expected object for %s", ErrMalformed, t)
		}
		out := reflect.MakeMapWithSize(t, len(obj))
		for k, v := range obj {
			key, err := convertMapKey(k, t.Key())
			if err != nil {
				return err
			}
			val := reflect.New(t.Elem()).Elem()
			if err := decodeValue(val, v, source); err != nil {
				return err
			}
			out.SetMapIndex(key, val)
		}
		dst.Set(out)
		return nil
	case reflect.Struct:
		obj, ok := raw.(map[string]any)
		if !ok {
			return fmt.Errorf("%w: expected object for %s", ErrMalformed, t)
		}
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if f.PkgPath != "" {
				continue
			}
			name, skip := jsonFieldName(f)
			if skip {
				continue
			}
			fieldRaw, present := obj[name]
			if !present {
				continue
			}
			if err := decodeValue(dst.Field(i), fieldRaw, source); err != nil {
				return err
			}
		}
		return nil
	default:
		return remarshalInto(dst, raw)
	}
}

// remarshalInto lets encoding/json do the final, fully-faithful conversion
// (numeric types, custom UnmarshalJSON, struct tags) for any subtree proven
// not to carry a handle, instead of reimplementing that logic by hand.
func remarshalInto(dst reflect.Value, raw any) error {
	if !dst.CanAddr() {
		return fmt.Errorf("ipc: cannot decode into unaddressable %s", dst.Type())
	}
	bytes, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := json.Unmarshal(bytes, dst.Addr().Interface()); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

func convertMapKey(s string, kt reflect.Type) (reflect.Value, error) {
	switch kt.Kind() {
	case reflect.String:
		return reflect.ValueOf(s).Convert(kt), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return reflect.Value{}, fmt.Errorf("%w: bad map key %q", ErrMalformed, s)
		}
		return reflect.ValueOf(n).Convert(kt), nil
	default:
		return reflect.Value{}, fmt.Errorf("%w: unsupported map key type %s", ErrMalformed, kt)
	}
}

func jsonFieldName(f reflect.StructField) (name string, skip bool) {
	tag := f.Tag.Get("json")
	if tag == "-" {
		return "", true
	}
	if tag == "" {
		return f.Name, false
	}
	parts := strings.SplitN(tag, ",", 2)
	if parts[0] == "" {
		return f.Name, false
	}
	return parts[0], false
}
