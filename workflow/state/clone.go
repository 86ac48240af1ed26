package state

import (
	"reflect"
	"time"

	"github.com/BaSui01/stepflow/types"
)

// Clone returns a deep copy of w. Nested maps and slices inside Context,
// step inputs/outputs and metadata are copied as well, so the result shares
// no mutable memory with w.
func (w *WorkflowState) Clone() *WorkflowState {
	if w == nil {
		return nil
	}
	out := *w
	out.CompletedAt = cloneTimePtr(w.CompletedAt)
	out.Context = CloneMap(w.Context)
	out.Metadata = w.Metadata.Clone()
	if w.Steps != nil {
		out.Steps = make([]StepState, len(w.Steps))
		for i := range w.Steps {
			out.Steps[i] = w.Steps[i].Clone()
		}
	}
	return &out
}

// Clone returns a deep copy of m.
func (m WorkflowMetadata) Clone() WorkflowMetadata {
	out := m
	if m.Tags != nil {
		out.Tags = append([]string(nil), m.Tags...)
	}
	out.Extra = CloneMap(m.Extra)
	return out
}

// Clone returns a deep copy of s.
func (s StepState) Clone() StepState {
	out := s
	out.CompletedAt = cloneTimePtr(s.CompletedAt)
	out.Input = CloneValue(s.Input)
	out.Output = CloneValue(s.Output)
	out.Transcript = types.CloneMessages(s.Transcript)
	out.Metadata = CloneMap(s.Metadata)
	return out
}

// CloneMap deep-copies a string-keyed map, see CloneValue.
func CloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = CloneValue(v)
	}
	return out
}

// CloneValue returns a deep copy of v. The generic JSON shapes take a fast
// path; any other map, slice, array, pointer or struct is copied
// recursively by reflection. Functions and channels are shared, and
// unexported struct fields are copied by value.
func CloneValue(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case map[string]any:
		return CloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = CloneValue(e)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	case map[string]string:
		out := make(map[string]string, len(t))
		for k, e := range t {
			out[k] = e
		}
		return out
	case *time.Time:
		return cloneTimePtr(t)
	case []types.Message:
		return types.CloneMessages(t)
	case string, bool, int, int64, float64, time.Time:
		return v
	default:
		c := &cloner{seen: map[pointerKey]reflect.Value{}}
		return c.clone(reflect.ValueOf(v)).Interface()
	}
}

// cloner copies reflect values; seen maps already copied pointers so
// shared and cyclic pointers keep their shape in the copy.
type cloner struct {
	seen map[pointerKey]reflect.Value
}

type pointerKey struct {
	addr uintptr
	typ  reflect.Type
}

func (c *cloner) clone(v reflect.Value) reflect.Value {
	switch v.Kind() {
	case reflect.Interface:
		if v.IsNil() {
			return v
		}
		out := reflect.New(v.Type()).Elem()
		out.Set(c.clone(v.Elem()))
		return out

	case reflect.Pointer:
		if v.IsNil() {
			return v
		}
		key := pointerKey{addr: v.Pointer(), typ: v.Type()}
		if done, ok := c.seen[key]; ok {
			return done
		}
		out := reflect.New(v.Type().Elem())
		c.seen[key] = out
		out.Elem().Set(c.clone(v.Elem()))
		return out

	case reflect.Map:
		if v.IsNil() {
			return v
		}
		out := reflect.MakeMapWithSize(v.Type(), v.Len())
		iter := v.MapRange()
		for iter.Next() {
			out.SetMapIndex(iter.Key(), c.clone(iter.Value()))
		}
		return out

	case reflect.Slice:
		if v.IsNil() {
			return v
		}
		out := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
		for i := 0; i < v.Len(); i++ {
			out.Index(i).Set(c.clone(v.Index(i)))
		}
		return out

	case reflect.Array:
		out := reflect.New(v.Type()).Elem()
		for i := 0; i < v.Len(); i++ {
			out.Index(i).Set(c.clone(v.Index(i)))
		}
		return out

	case reflect.Struct:
		out := reflect.New(v.Type()).Elem()
		out.Set(v)
		for i := 0; i < v.NumField(); i++ {
			if f := out.Field(i); f.CanSet() {
				f.Set(c.clone(v.Field(i)))
			}
		}
		return out

	default:
		return v
	}
}

func cloneTimePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
