// Package keys builds namespaced store keys from colon-separated segments.
package keys

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// Builder joins segments under a root prefix. Empty string segments are skipped,
// so optional scopes (kind, verb) can be passed unconditionally.
type Builder struct {
	prefix string
	sep    string
}

func New(prefix, sep string) Builder {
	if sep == "" {
		sep = ":"
	}
	return Builder{prefix: prefix, sep: sep}
}

func (b Builder) Prefix() string    { return b.prefix }
func (b Builder) Separator() string { return b.sep }

// Key joins prefix and segments: Key("uid", 3, "followers") => "sequere:uid:3:followers".
func (b Builder) Key(segments ...any) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		if v := segment(s); v != "" {
			parts = append(parts, v)
		}
	}
	return b.prefix + strings.Join(parts, b.sep)
}

// Join appends segments to an already built key.
func (b Builder) Join(key string, segments ...any) string {
	var sb strings.Builder
	sb.WriteString(key)
	for _, s := range segments {
		if v := segment(s); v != "" {
			sb.WriteString(b.sep)
			sb.WriteString(v)
		}
	}
	return sb.String()
}

// segment renders one key part. Named string and integer types render by their
// underlying value; any other type panics rather than vanish from the key.
func segment(s any) string {
	switch v := s.(type) {
	case nil:
		return ""
	case string:
		return v
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	case fmt.Stringer:
		return v.String()
	}
	rv := reflect.ValueOf(s)
	switch rv.Kind() {
	case reflect.String:
		return rv.String()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(rv.Uint(), 10)
	}
	panic(fmt.Sprintf("keys: unsupported segment type %T", s))
}
