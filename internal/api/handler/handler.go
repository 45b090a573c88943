package handler

import (
	"errors"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/followgraph/internal/api/middleware"
	"github.com/d60-Lab/followgraph/internal/graph"
	"github.com/d60-Lab/followgraph/internal/registry"
	"github.com/d60-Lab/followgraph/internal/repository"
	"github.com/d60-Lab/followgraph/internal/service"
	"github.com/d60-Lab/followgraph/internal/timeline"
	"github.com/d60-Lab/followgraph/pkg/jwt"
	"github.com/d60-Lab/followgraph/pkg/response"
)

// Handler HTTP 入口，只做参数解析与错误映射
type Handler struct {
	relService      service.RelationshipService
	timelineService service.TimelineService
	publisher       *service.Publisher
	repos           *repository.Repositories
	tokens          *jwt.Manager
}

func New(rel service.RelationshipService, tl service.TimelineService, pub *service.Publisher,
	repos *repository.Repositories, tokens *jwt.Manager) *Handler {
	return &Handler{relService: rel, timelineService: tl, publisher: pub, repos: repos, tokens: tokens}
}

// fail 把领域错误映射为 HTTP 状态
func fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, registry.ErrUnknownKind),
		errors.Is(err, registry.ErrInvalidRef),
		errors.Is(err, registry.ErrUnknownVerb),
		errors.Is(err, graph.ErrFollowSelf):
		response.BadRequest(c, err.Error())
	case errors.Is(err, service.ErrEntityNotFound), errors.Is(err, repository.ErrNotFound):
		response.NotFound(c, err.Error())
	case errors.Is(err, graph.ErrAlreadyFollowing), errors.Is(err, graph.ErrNotFollowing):
		response.Conflict(c, err.Error())
	default:
		response.InternalError(c, err)
	}
}

func caller(c *gin.Context) (registry.Ref, bool) {
	ref, ok := middleware.Caller(c)
	if !ok {
		response.Unauthorized(c, "unauthenticated")
	}
	return ref, ok
}

// pathRef 读取 /:identifier/:object_id
func pathRef(c *gin.Context) (registry.Ref, bool) {
	id, err := strconv.ParseInt(c.Param("object_id"), 10, 64)
	if err != nil {
		response.BadRequest(c, "invalid object_id")
		return registry.Ref{}, false
	}
	return registry.Ref{Kind: c.Param("identifier"), ID: id}, true
}

func pageParams(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))
	return page, pageSize
}

type refView struct {
	Identifier string `json:"identifier"`
	ObjectID   int64  `json:"object_id"`
}

func newRefView(r registry.Ref) refView { return refView{Identifier: r.Kind, ObjectID: r.ID} }

type entryView struct {
	refView
	UID    int64     `json:"uid"`
	Entity any       `json:"entity"`
	Since  time.Time `json:"since"`
}

type actionView struct {
	UID          int64     `json:"uid"`
	Verb         string    `json:"verb"`
	Actor        refView   `json:"actor"`
	Target       *refView  `json:"target,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	ActorEntity  any       `json:"actor_entity,omitempty"`
	TargetEntity any       `json:"target_entity,omitempty"`
}

func newActionView(a *timeline.Action) actionView {
	v := actionView{
		UID:          a.UID,
		Verb:         a.Verb,
		Actor:        newRefView(a.Actor),
		Timestamp:    a.Timestamp,
		ActorEntity:  a.ActorEntity,
		TargetEntity: a.TargetEntity,
	}
	if a.Target != nil {
		t := newRefView(*a.Target)
		v.Target = &t
	}
	return v
}

func pageView[T, V any](p *service.Page[T], conv func(T) V) service.Page[V] {
	items := make([]V, len(p.Items))
	for i, it := range p.Items {
		items[i] = conv(it)
	}
	return service.Page[V]{Items: items, Total: p.Total, Page: p.Page, PageSize: p.PageSize}
}
