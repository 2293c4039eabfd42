package config

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/openfroyo/froyo-mysql/pkg/engine"
)

// Precedence is an attribute precedence level. Higher levels win when the
// layers are merged.
type Precedence int

const (
	// PrecedenceDefault holds cookbook defaults.
	PrecedenceDefault Precedence = iota

	// PrecedenceNormal holds attributes from the node file.
	PrecedenceNormal

	// PrecedenceOverride holds override attributes and script results.
	PrecedenceOverride

	// PrecedenceAutomatic holds discovered facts.
	PrecedenceAutomatic

	precedenceCount
)

// String returns the precedence name.
func (p Precedence) String() string {
	switch p {
	case PrecedenceDefault:
		return "default"
	case PrecedenceNormal:
		return "normal"
	case PrecedenceOverride:
		return "override"
	case PrecedenceAutomatic:
		return "automatic"
	default:
		return fmt.Sprintf("precedence(%d)", int(p))
	}
}

// Attributes is a layered node attribute store addressed by dotted keys.
// It implements engine.Attributes.
type Attributes struct {
	mu     sync.RWMutex
	layers [precedenceCount]map[string]interface{}
}

var _ engine.Attributes = (*Attributes)(nil)

// NewAttributes creates an empty attribute store.
func NewAttributes() *Attributes {
	a := &Attributes{}
	for i := range a.layers {
		a.layers[i] = make(map[string]interface{})
	}
	return a
}

// Set stores value at the dotted key in the given layer, creating
// intermediate maps as needed.
func (a *Attributes) Set(p Precedence, key string, value interface{}) {
	a.mu.Lock()
	defer a.mu.Unlock()

	parts := strings.Split(key, ".")
	m := a.layers[p]
	for _, part := range parts[:len(parts)-1] {
		next, ok := m[part].(map[string]interface{})
		if !ok {
			next = make(map[string]interface{})
			m[part] = next
		}
		m = next
	}
	m[parts[len(parts)-1]] = normalize(value)
}

// Merge deep-merges values into the given layer.
func (a *Attributes) Merge(p Precedence, values map[string]interface{}) {
	a.mu.Lock()
	defer a.mu.Unlock()

	deepMerge(a.layers[p], normalize(values).(map[string]interface{}))
}

// Get returns the merged value at the dotted key.
func (a *Attributes) Get(key string) (interface{}, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var (
		found bool
		value interface{}
	)
	for i := range a.layers {
		if v, ok := lookup(a.layers[i], key); ok {
			if vm, isMap := v.(map[string]interface{}); isMap {
				if prev, prevIsMap := value.(map[string]interface{}); prevIsMap && found {
					merged := deepCopy(prev).(map[string]interface{})
					deepMerge(merged, vm)
					value = merged
					continue
				}
				value = deepCopy(vm)
			} else {
				value = v
			}
			found = true
		}
	}
	return value, found
}

// Has reports whether the dotted key is set in any layer.
func (a *Attributes) Has(key string) bool {
	_, ok := a.Get(key)
	return ok
}

// String returns the string at key. A missing key is a permanent
// MISSING_ATTRIBUTE error.
func (a *Attributes) String(key string) (string, error) {
	v, ok := a.Get(key)
	if !ok {
		return "", missingAttribute(key)
	}
	s, ok := v.(string)
	if !ok {
		return "", invalidAttribute(key, "string", v)
	}
	return s, nil
}

// StringOr returns the string at key or fallback when it is missing.
func (a *Attributes) StringOr(key, fallback string) string {
	s, err := a.String(key)
	if err != nil {
		return fallback
	}
	return s
}

// Strings returns the ordered string list at key. A missing key is a
// permanent MISSING_ATTRIBUTE error; an explicitly empty list is not.
func (a *Attributes) Strings(key string) ([]string, error) {
	v, ok := a.Get(key)
	if !ok {
		return nil, missingAttribute(key)
	}
	switch list := v.(type) {
	case []string:
		return append([]string(nil), list...), nil
	case []interface{}:
		out := make([]string, 0, len(list))
		for i, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, invalidAttribute(fmt.Sprintf("%s[%d]", key, i), "string", item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, invalidAttribute(key, "list of strings", v)
	}
}

// Bool returns the bool at key, or false when it is missing.
func (a *Attributes) Bool(key string) bool {
	v, ok := a.Get(key)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// Merged returns a deep copy of all layers merged by precedence.
func (a *Attributes) Merged() map[string]interface{} {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make(map[string]interface{})
	for i := range a.layers {
		deepMerge(out, deepCopy(a.layers[i]).(map[string]interface{}))
	}
	return out
}

// Keys returns the sorted dotted keys of all leaf values.
func (a *Attributes) Keys() []string {
	var keys []string
	var walk func(prefix string, m map[string]interface{})
	walk = func(prefix string, m map[string]interface{}) {
		for k, v := range m {
			full := k
			if prefix != "" {
				full = prefix + "." + k
			}
			if sub, ok := v.(map[string]interface{}); ok {
				walk(full, sub)
				continue
			}
			keys = append(keys, full)
		}
	}
	walk("", a.Merged())
	sort.Strings(keys)
	return keys
}

func lookup(m map[string]interface{}, key string) (interface{}, bool) {
	parts := strings.Split(key, ".")
	var cur interface{} = m
	for _, part := range parts {
		cm, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = cm[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// deepMerge merges src into dst. Maps merge recursively, everything else
// (lists included) is replaced.
func deepMerge(dst, src map[string]interface{}) {
	for k, sv := range src {
		if sm, ok := sv.(map[string]interface{}); ok {
			if dm, ok := dst[k].(map[string]interface{}); ok {
				deepMerge(dm, sm)
				continue
			}
			dst[k] = deepCopy(sm)
			continue
		}
		dst[k] = deepCopy(sv)
	}
}

func deepCopy(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = deepCopy(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = deepCopy(item)
		}
		return out
	default:
		return v
	}
}

// normalize converts decoder-specific shapes ([]string, map[interface{}]interface{})
// into the map[string]interface{} / []interface{} form the store uses.
func normalize(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = normalize(item)
		}
		return out
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[fmt.Sprint(k)] = normalize(item)
		}
		return out
	case []string:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = item
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = normalize(item)
		}
		return out
	default:
		return v
	}
}

func missingAttribute(key string) error {
	return engine.NewPermanentError("node attribute is not set", fmt.Errorf("no value for %q", key)).
		WithCode(engine.ErrCodeMissingAttribute).
		WithDetail("attribute", key)
}

func invalidAttribute(key, want string, got interface{}) error {
	return engine.NewPermanentError("node attribute has the wrong type",
		fmt.Errorf("%q: want %s, got %T", key, want, got)).
		WithCode(engine.ErrCodeValidation).
		WithDetail("attribute", key)
}
