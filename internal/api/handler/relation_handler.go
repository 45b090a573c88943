package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/followgraph/internal/graph"
	"github.com/d60-Lab/followgraph/internal/registry"
	"github.com/d60-Lab/followgraph/internal/service"
	"github.com/d60-Lab/followgraph/pkg/response"
)

type followRequest struct {
	Identifier string `json:"identifier" form:"identifier" binding:"required"`
	ObjectID   int64  `json:"object_id" form:"object_id" binding:"required,gt=0"`
}

func (r followRequest) ref() registry.Ref { return registry.Ref{Kind: r.Identifier, ID: r.ObjectID} }

// Follow 关注
// @Summary 关注实体
// @Tags 关系链
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body followRequest true "被关注实体"
// @Success 200 {object} response.Response{data=service.Counts}
// @Failure 400 {object} response.Response
// @Failure 404 {object} response.Response
// @Failure 409 {object} response.Response
// @Router /api/v1/relations/follow [post]
func (h *Handler) Follow(c *gin.Context) {
	h.mutate(c, h.relService.Follow)
}

// Unfollow 取消关注
// @Summary 取消关注
// @Tags 关系链
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body followRequest true "被取关实体"
// @Success 200 {object} response.Response{data=service.Counts}
// @Failure 400 {object} response.Response
// @Failure 404 {object} response.Response
// @Failure 409 {object} response.Response
// @Router /api/v1/relations/unfollow [post]
func (h *Handler) Unfollow(c *gin.Context) {
	h.mutate(c, h.relService.Unfollow)
}

func (h *Handler) mutate(c *gin.Context, op func(ctx context.Context, from, to registry.Ref) (service.Counts, error)) {
	from, ok := caller(c)
	if !ok {
		return
	}
	var req followRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	counts, err := op(c.Request.Context(), from, req.ref())
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, counts)
}

// IsFollowing 调用方是否关注了目标
// @Summary 是否已关注
// @Tags 关系链
// @Produce json
// @Security BearerAuth
// @Param identifier query string true "实体类型"
// @Param object_id query int true "实体ID"
// @Success 200 {object} response.Response{data=map[string]bool}
// @Failure 400 {object} response.Response
// @Router /api/v1/relations/is_following [get]
func (h *Handler) IsFollowing(c *gin.Context) {
	from, ok := caller(c)
	if !ok {
		return
	}
	var req followRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	following, err := h.relService.IsFollowing(c.Request.Context(), from, req.ref())
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, gin.H{"is_following": following})
}

// ListFollowers 粉丝列表
// @Summary 查询粉丝列表
// @Tags 关系链
// @Produce json
// @Param identifier path string true "实体类型"
// @Param object_id path int true "实体ID"
// @Param kind query string false "只看某类实体"
// @Param page query int false "页码" default(1)
// @Param page_size query int false "每页数量" default(10)
// @Success 200 {object} response.Response{data=map[string]interface{}}
// @Router /api/v1/entities/{identifier}/{object_id}/followers [get]
func (h *Handler) ListFollowers(c *gin.Context) { h.list(c, graph.Followers) }

// ListFollowings 关注列表
// @Summary 查询关注列表
// @Tags 关系链
// @Produce json
// @Param identifier path string true "实体类型"
// @Param object_id path int true "实体ID"
// @Param kind query string false "只看某类实体"
// @Param page query int false "页码" default(1)
// @Param page_size query int false "每页数量" default(10)
// @Success 200 {object} response.Response{data=map[string]interface{}}
// @Router /api/v1/entities/{identifier}/{object_id}/followings [get]
func (h *Handler) ListFollowings(c *gin.Context) { h.list(c, graph.Followings) }

// ListFriends 互关列表
// @Summary 查询互相关注列表
// @Tags 关系链
// @Produce json
// @Param identifier path string true "实体类型"
// @Param object_id path int true "实体ID"
// @Param kind query string false "只看某类实体"
// @Param page query int false "页码" default(1)
// @Param page_size query int false "每页数量" default(10)
// @Success 200 {object} response.Response{data=map[string]interface{}}
// @Router /api/v1/entities/{identifier}/{object_id}/friends [get]
func (h *Handler) ListFriends(c *gin.Context) { h.list(c, graph.Friends) }

func (h *Handler) list(c *gin.Context, rel graph.Relation) {
	ref, ok := pathRef(c)
	if !ok {
		return
	}
	page, pageSize := pageParams(c)
	res, err := h.relService.List(c.Request.Context(), ref, rel, c.Query("kind"), page, pageSize)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, pageView(res, func(e graph.Entry) entryView {
		return entryView{refView: newRefView(e.Ref), UID: e.UID, Entity: e.Entity, Since: e.Since}
	}))
}

// Counts 关注计数
// @Summary 查询关注计数
// @Tags 关系链
// @Produce json
// @Param identifier path string true "实体类型"
// @Param object_id path int true "实体ID"
// @Param kind query string false "附带某类实体的细分计数"
// @Success 200 {object} response.Response{data=service.Counts}
// @Router /api/v1/entities/{identifier}/{object_id}/counts [get]
func (h *Handler) Counts(c *gin.Context) {
	ref, ok := pathRef(c)
	if !ok {
		return
	}
	counts, err := h.relService.Counts(c.Request.Context(), ref, c.Query("kind"))
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, counts)
}
