package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/d60-Lab/followgraph/internal/model"
)

var ErrNotFound = errors.New("record not found")

// gormStore 通用的按主键读写
type gormStore[T any] struct {
	db *gorm.DB
}

func (s gormStore[T]) create(ctx context.Context, v *T) error {
	return s.db.WithContext(ctx).Create(v).Error
}

func (s gormStore[T]) get(ctx context.Context, id int64) (*T, error) {
	var v T
	err := s.db.WithContext(ctx).First(&v, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (s gormStore[T]) findByIDs(ctx context.Context, ids []int64) ([]*T, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var out []*T
	err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&out).Error
	return out, err
}

type identifiable interface{ EntityID() int64 }

// resolve 批量加载并按 id 建索引，缺失的 id 不出现在结果中
func resolve[T any, PT interface {
	*T
	identifiable
}](ctx context.Context, s gormStore[T], ids []int64) (map[int64]any, error) {
	rows, err := s.findByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make(map[int64]any, len(rows))
	for _, r := range rows {
		out[PT(r).EntityID()] = r
	}
	return out, nil
}

type UserRepository interface {
	Create(ctx context.Context, u *model.User) error
	Get(ctx context.Context, id int64) (*model.User, error)
	FindByIDs(ctx context.Context, ids []int64) ([]*model.User, error)
	Resolve(ctx context.Context, ids []int64) (map[int64]any, error)
}

type userRepository struct{ s gormStore[model.User] }

func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{s: gormStore[model.User]{db: db}}
}

func (r *userRepository) Create(ctx context.Context, u *model.User) error { return r.s.create(ctx, u) }

func (r *userRepository) Get(ctx context.Context, id int64) (*model.User, error) {
	return r.s.get(ctx, id)
}

func (r *userRepository) FindByIDs(ctx context.Context, ids []int64) ([]*model.User, error) {
	return r.s.findByIDs(ctx, ids)
}

func (r *userRepository) Resolve(ctx context.Context, ids []int64) (map[int64]any, error) {
	return resolve[model.User](ctx, r.s, ids)
}

type ProjectRepository interface {
	Create(ctx context.Context, p *model.Project) error
	Get(ctx context.Context, id int64) (*model.Project, error)
	Resolve(ctx context.Context, ids []int64) (map[int64]any, error)
}

type projectRepository struct{ s gormStore[model.Project] }

func NewProjectRepository(db *gorm.DB) ProjectRepository {
	return &projectRepository{s: gormStore[model.Project]{db: db}}
}

func (r *projectRepository) Create(ctx context.Context, p *model.Project) error {
	return r.s.create(ctx, p)
}

func (r *projectRepository) Get(ctx context.Context, id int64) (*model.Project, error) {
	return r.s.get(ctx, id)
}

func (r *projectRepository) Resolve(ctx context.Context, ids []int64) (map[int64]any, error) {
	return resolve[model.Project](ctx, r.s, ids)
}

type PostRepository interface {
	Create(ctx context.Context, p *model.Post) error
	Get(ctx context.Context, id int64) (*model.Post, error)
	Resolve(ctx context.Context, ids []int64) (map[int64]any, error)
}

type postRepository struct{ s gormStore[model.Post] }

func NewPostRepository(db *gorm.DB) PostRepository {
	return &postRepository{s: gormStore[model.Post]{db: db}}
}

func (r *postRepository) Create(ctx context.Context, p *model.Post) error { return r.s.create(ctx, p) }

func (r *postRepository) Get(ctx context.Context, id int64) (*model.Post, error) {
	return r.s.get(ctx, id)
}

func (r *postRepository) Resolve(ctx context.Context, ids []int64) (map[int64]any, error) {
	return resolve[model.Post](ctx, r.s, ids)
}
