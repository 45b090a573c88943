// Package testkit holds shared fixtures for package tests: a miniredis-backed
// client and an in-memory host entity store registered as "user" and "project".
package testkit

import (
	"context"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/followgraph/internal/registry"
)

func Redis(t testing.TB) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

type User struct {
	ID   int64
	Name string
}

func (u *User) EntityID() int64 { return u.ID }

type Project struct {
	ID   int64
	Name string
}

func (p *Project) EntityID() int64 { return p.ID }

type Store struct {
	mu       sync.RWMutex
	users    map[int64]*User
	projects map[int64]*Project
}

func NewStore() *Store {
	return &Store{users: make(map[int64]*User), projects: make(map[int64]*Project)}
}

func (s *Store) AddUser(id int64, name string) registry.Ref {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[id] = &User{ID: id, Name: name}
	return registry.Ref{Kind: "user", ID: id}
}

func (s *Store) AddProject(id int64, name string) registry.Ref {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects[id] = &Project{ID: id, Name: name}
	return registry.Ref{Kind: "project", ID: id}
}

func (s *Store) DeleteUser(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.users, id)
}

func (s *Store) resolveUsers(_ context.Context, ids []int64) (map[int64]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[int64]any, len(ids))
	for _, id := range ids {
		if u, ok := s.users[id]; ok {
			out[id] = u
		}
	}
	return out, nil
}

func (s *Store) resolveProjects(_ context.Context, ids []int64) (map[int64]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[int64]any, len(ids))
	for _, id := range ids {
		if p, ok := s.projects[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

// Registry registers both kinds and the verbs like, create and comment.
func (s *Store) Registry(t testing.TB) *registry.Registry {
	t.Helper()
	reg, err := registry.NewBuilder().
		Register("user", (*User)(nil), registry.ResolverFunc(s.resolveUsers)).
		Register("project", (*Project)(nil), registry.ResolverFunc(s.resolveProjects)).
		RegisterVerb("like", "create", "comment").
		Build()
	require.NoError(t, err)
	return reg
}
