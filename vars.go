package blockview

import (
	"reflect"
	"strconv"
	"strings"
)

// Vars is the variable bag a program runs against. Templates only read it;
// Overlay creates a child bag that shadows some keys and delegates the rest.
type Vars struct {
	parent *Vars
	local  map[string]any
	root   reflect.Value
}

// NewVars wraps data, which may be a map with string keys, a struct or a pointer to one.
func NewVars(data any) *Vars {
	if v, ok := data.(*Vars); ok {
		return v
	}
	if m, ok := data.(map[string]any); ok {
		return &Vars{local: m}
	}
	return &Vars{root: reflect.ValueOf(data)}
}

// Overlay returns a bag in which values shadows v.
func (v *Vars) Overlay(values map[string]any) *Vars {
	return &Vars{parent: v, local: values}
}

// Get returns the value stored under a single key.
func (v *Vars) Get(key string) (any, bool) {
	for cur := v; cur != nil; cur = cur.parent {
		if val, ok := cur.local[key]; ok {
			return val, true
		}
		if cur.root.IsValid() {
			if r, ok := access(cur.root, key); ok {
				if !r.IsValid() || !r.CanInterface() {
					return nil, true
				}
				return r.Interface(), true
			}
		}
	}
	return nil, false
}

// Lookup resolves a dotted path such as "user.address.city".
// Missing steps yield nil instead of an error.
func (v *Vars) Lookup(path string) any {
	if v == nil {
		return nil
	}
	head, rest, _ := strings.Cut(path, ".")
	val, ok := v.Get(head)
	if !ok {
		return nil
	}
	if rest == "" {
		return val
	}
	return walkPath(val, strings.Split(rest, "."))
}

// Flatten copies the visible top level keys into a map. Struct roots are not expanded.
func (v *Vars) Flatten() map[string]any {
	out := map[string]any{}
	var chain []*Vars
	for cur := v; cur != nil; cur = cur.parent {
		chain = append(chain, cur)
	}
	for i := len(chain) - 1; i >= 0; i-- {
		for k, val := range chain[i].local {
			out[k] = val
		}
	}
	return out
}

// walkPath follows keys from val, returning nil as soon as a step is missing.
func walkPath(val any, keys []string) any {
	r := reflect.ValueOf(val)
	for _, key := range keys {
		next, ok := access(r, key)
		if !ok {
			return nil
		}
		r = next
	}
	if !r.IsValid() || !r.CanInterface() {
		return nil
	}
	return r.Interface()
}

// access looks up key on r: map keys, exported struct fields, methods without
// arguments and slice/array indexes are all accepted.
func access(r reflect.Value, key string) (reflect.Value, bool) {
	if !r.IsValid() {
		return reflect.Value{}, false
	}

	// methods may be declared on the pointer, so try before indirecting
	if m := r.MethodByName(key); m.IsValid() {
		return callAccessor(m)
	}

	r = indirect(r)
	if !r.IsValid() {
		return reflect.Value{}, false
	}
	if m := r.MethodByName(key); m.IsValid() {
		return callAccessor(m)
	}

	switch r.Kind() {
	case reflect.Map:
		if r.Type().Key().Kind() != reflect.String {
			return reflect.Value{}, false
		}
		v := r.MapIndex(reflect.ValueOf(key).Convert(r.Type().Key()))
		if !v.IsValid() {
			return reflect.Value{}, false
		}
		return indirectInterface(v), true
	case reflect.Struct:
		f, ok := r.Type().FieldByName(key)
		if !ok || !f.IsExported() {
			return reflect.Value{}, false
		}
		return indirectInterface(r.FieldByIndex(f.Index)), true
	case reflect.Slice, reflect.Array, reflect.String:
		i, err := strconv.Atoi(key)
		if err != nil || i < 0 || i >= r.Len() {
			return reflect.Value{}, false
		}
		return indirectInterface(r.Index(i)), true
	}
	return reflect.Value{}, false
}

// callAccessor returns the method value itself unless it takes no arguments,
// in which case it is called and its first result used.
func callAccessor(m reflect.Value) (reflect.Value, bool) {
	t := m.Type()
	if t.NumIn() != 0 || t.NumOut() == 0 {
		return m, true
	}
	out := m.Call(nil)
	if len(out) == 2 && out[1].Type() == errorType && !out[1].IsNil() {
		return reflect.Value{}, false
	}
	return indirectInterface(out[0]), true
}

var errorType = reflect.TypeFor[error]()

func indirect(r reflect.Value) reflect.Value {
	for r.IsValid() && (r.Kind() == reflect.Pointer || r.Kind() == reflect.Interface) {
		if r.IsNil() {
			return reflect.Value{}
		}
		r = r.Elem()
	}
	return r
}

func indirectInterface(r reflect.Value) reflect.Value {
	if r.Kind() == reflect.Interface {
		if r.IsNil() {
			return reflect.Value{}
		}
		return r.Elem()
	}
	return r
}
