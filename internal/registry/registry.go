// Package registry maps host entity types to kind strings and kinds to resolvers.
//
// A Registry is built once at startup through a Builder and is read-only
// afterwards, so it can be shared across goroutines without locking.
package registry

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strconv"
)

var (
	ErrUnknownKind      = errors.New("unknown entity kind")
	ErrUnregisteredType = errors.New("entity type is not registered")
	ErrUnknownVerb      = errors.New("unknown action verb")
	ErrDuplicateKind    = errors.New("entity kind already registered")
	ErrInvalidRef       = errors.New("invalid entity reference")
)

// Ref identifies an entity by kind and native id. It is the only form
// entities take in persisted data and task payloads.
type Ref struct {
	Kind string `json:"kind"`
	ID   int64  `json:"id"`
}

func (r Ref) String() string { return r.Kind + ":" + strconv.FormatInt(r.ID, 10) }

func (r Ref) Valid() bool { return r.Kind != "" && r.ID > 0 }

// Identifiable entities expose their native id.
type Identifiable interface {
	EntityID() int64
}

// Resolver loads entities of one kind by native ids. Ids that do not exist are
// simply absent from the returned map.
type Resolver interface {
	Resolve(ctx context.Context, ids []int64) (map[int64]any, error)
}

type ResolverFunc func(ctx context.Context, ids []int64) (map[int64]any, error)

func (f ResolverFunc) Resolve(ctx context.Context, ids []int64) (map[int64]any, error) {
	return f(ctx, ids)
}

type Registry struct {
	resolvers map[string]Resolver
	types     map[reflect.Type]string
	verbs     map[string]struct{}
}

type Builder struct {
	reg  *Registry
	errs []error
}

func NewBuilder() *Builder {
	return &Builder{reg: &Registry{
		resolvers: make(map[string]Resolver),
		types:     make(map[reflect.Type]string),
		verbs:     make(map[string]struct{}),
	}}
}

// Register binds kind to resolver. When sample is non-nil its dynamic type
// (pointer or value) is mapped to kind for KindOf lookups.
func (b *Builder) Register(kind string, sample any, r Resolver) *Builder {
	if kind == "" || r == nil {
		b.errs = append(b.errs, fmt.Errorf("register %q: kind and resolver are required", kind))
		return b
	}
	if _, ok := b.reg.resolvers[kind]; ok {
		b.errs = append(b.errs, fmt.Errorf("%w: %s", ErrDuplicateKind, kind))
		return b
	}
	b.reg.resolvers[kind] = r
	if sample != nil {
		b.reg.types[baseType(sample)] = kind
	}
	return b
}

func (b *Builder) RegisterVerb(verbs ...string) *Builder {
	for _, v := range verbs {
		if v == "" {
			b.errs = append(b.errs, errors.New("register verb: empty verb"))
			continue
		}
		b.reg.verbs[v] = struct{}{}
	}
	return b
}

// Build returns the frozen registry. The builder must not be reused.
func (b *Builder) Build() (*Registry, error) {
	if err := errors.Join(b.errs...); err != nil {
		return nil, err
	}
	r := b.reg
	b.reg = nil
	return r, nil
}

func baseType(v any) reflect.Type {
	t := reflect.TypeOf(v)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}

func (r *Registry) KindOf(entity any) (string, error) {
	if entity == nil {
		return "", ErrUnregisteredType
	}
	kind, ok := r.types[baseType(entity)]
	if !ok {
		return "", fmt.Errorf("%w: %T", ErrUnregisteredType, entity)
	}
	return kind, nil
}

// RefOf derives the reference of an Identifiable entity.
func (r *Registry) RefOf(entity any) (Ref, error) {
	kind, err := r.KindOf(entity)
	if err != nil {
		return Ref{}, err
	}
	id, ok := entity.(Identifiable)
	if !ok {
		return Ref{}, fmt.Errorf("%w: %T has no EntityID", ErrInvalidRef, entity)
	}
	return Ref{Kind: kind, ID: id.EntityID()}, nil
}

func (r *Registry) Resolver(kind string) (Resolver, error) {
	res, ok := r.resolvers[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	return res, nil
}

func (r *Registry) HasKind(kind string) bool {
	_, ok := r.resolvers[kind]
	return ok
}

// Check validates ref against the registered kinds.
func (r *Registry) Check(ref Ref) error {
	if !ref.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidRef, ref.String())
	}
	if !r.HasKind(ref.Kind) {
		return fmt.Errorf("%w: %s", ErrUnknownKind, ref.Kind)
	}
	return nil
}

// CheckVerb reports ErrUnknownVerb for verbs outside the catalog.
func (r *Registry) CheckVerb(verb string) error {
	if !r.HasVerb(verb) {
		return fmt.Errorf("%w: %q", ErrUnknownVerb, verb)
	}
	return nil
}

func (r *Registry) HasVerb(verb string) bool {
	_, ok := r.verbs[verb]
	return ok
}

func (r *Registry) Kinds() []string {
	out := make([]string, 0, len(r.resolvers))
	for k := range r.resolvers {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) Verbs() []string {
	out := make([]string, 0, len(r.verbs))
	for v := range r.verbs {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
