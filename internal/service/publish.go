package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/d60-Lab/followgraph/internal/model"
	"github.com/d60-Lab/followgraph/internal/registry"
	"github.com/d60-Lab/followgraph/internal/repository"
	"github.com/d60-Lab/followgraph/internal/timeline"
	"github.com/d60-Lab/followgraph/pkg/logger"
)

// Publisher 落地 Post 并把 "create" 动作写入作者时间线，由时间线负责向粉丝扇出
type Publisher struct {
	posts    repository.PostRepository
	projects repository.ProjectRepository
	timeline timeline.Index
}

func NewPublisher(posts repository.PostRepository, projects repository.ProjectRepository, idx timeline.Index) *Publisher {
	return &Publisher{posts: posts, projects: projects, timeline: idx}
}

// Publish 发帖。projectID 非空时动作同时记入项目时间线
func (p *Publisher) Publish(ctx context.Context, author registry.Ref, projectID *int64, payload string) (*model.Post, *timeline.Action, error) {
	if projectID != nil {
		if _, err := p.projects.Get(ctx, *projectID); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, nil, fmt.Errorf("%w: project:%d", ErrEntityNotFound, *projectID)
			}
			return nil, nil, err
		}
	}

	now := time.Now()
	post := &model.Post{AuthorID: author.ID, ProjectID: projectID, Payload: payload, CreatedAt: now, UpdatedAt: now}
	if err := p.posts.Create(ctx, post); err != nil {
		return nil, nil, err
	}

	target := registry.Ref{Kind: model.KindPost, ID: post.ID}
	action := timeline.NewAction(model.VerbCreate, author, &target, now)
	if err := timeline.For(p.timeline, author).Save(ctx, action); err != nil {
		logger.Error("save publish action failed", zap.Int64("post_id", post.ID), zap.Error(err))
		return post, nil, err
	}
	if projectID != nil {
		project := registry.Ref{Kind: model.KindProject, ID: *projectID}
		if err := timeline.For(p.timeline, project).Save(ctx, action); err != nil {
			return post, action, err
		}
	}
	return post, action, nil
}
