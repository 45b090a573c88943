package repository

import (
	"gorm.io/gorm"

	"github.com/d60-Lab/followgraph/internal/model"
	"github.com/d60-Lab/followgraph/internal/registry"
)

// Repositories 汇总各实体的仓储
type Repositories struct {
	Users    UserRepository
	Projects ProjectRepository
	Posts    PostRepository
}

func New(db *gorm.DB) *Repositories {
	return &Repositories{
		Users:    NewUserRepository(db),
		Projects: NewProjectRepository(db),
		Posts:    NewPostRepository(db),
	}
}

// Wrap 包装某个 kind 的 resolver，例如加缓存
type Wrap func(kind string, r registry.Resolver) registry.Resolver

// Registry 注册全部实体类型和动作类型
func (r *Repositories) Registry(wrap Wrap) (*registry.Registry, error) {
	if wrap == nil {
		wrap = func(_ string, res registry.Resolver) registry.Resolver { return res }
	}
	return registry.NewBuilder().
		Register(model.KindUser, (*model.User)(nil), wrap(model.KindUser, r.Users)).
		Register(model.KindProject, (*model.Project)(nil), wrap(model.KindProject, r.Projects)).
		Register(model.KindPost, (*model.Post)(nil), wrap(model.KindPost, r.Posts)).
		RegisterVerb(model.VerbCreate, model.VerbLike, model.VerbComment, model.VerbFollow).
		Build()
}
