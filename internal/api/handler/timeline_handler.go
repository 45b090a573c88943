package handler

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/followgraph/internal/registry"
	"github.com/d60-Lab/followgraph/internal/service"
	"github.com/d60-Lab/followgraph/internal/timeline"
	"github.com/d60-Lab/followgraph/pkg/response"
)

func filterParams(c *gin.Context) timeline.Filter {
	return timeline.Filter{Verb: c.Query("verb"), TargetKind: c.Query("target_kind")}
}

// PrivateTimeline 调用方收到的动态
// @Summary 我的时间线
// @Tags 时间线
// @Produce json
// @Security BearerAuth
// @Param verb query string false "动作过滤"
// @Param target_kind query string false "目标类型过滤"
// @Param page query int false "页码" default(1)
// @Param page_size query int false "每页数量" default(10)
// @Success 200 {object} response.Response{data=map[string]interface{}}
// @Router /api/v1/timeline [get]
func (h *Handler) PrivateTimeline(c *gin.Context) {
	owner, ok := caller(c)
	if !ok {
		return
	}
	h.timeline(c, owner, h.timelineService.Private)
}

// PublicTimeline 某实体自己发出的动态
// @Summary 实体公开时间线
// @Tags 时间线
// @Produce json
// @Param identifier path string true "实体类型"
// @Param object_id path int true "实体ID"
// @Param verb query string false "动作过滤"
// @Param target_kind query string false "目标类型过滤"
// @Param page query int false "页码" default(1)
// @Param page_size query int false "每页数量" default(10)
// @Success 200 {object} response.Response{data=map[string]interface{}}
// @Router /api/v1/entities/{identifier}/{object_id}/timeline [get]
func (h *Handler) PublicTimeline(c *gin.Context) {
	owner, ok := pathRef(c)
	if !ok {
		return
	}
	h.timeline(c, owner, h.timelineService.Public)
}

type timelineReader func(ctx context.Context, owner registry.Ref, f timeline.Filter, page, pageSize int) (*service.Page[*timeline.Action], error)

func (h *Handler) timeline(c *gin.Context, owner registry.Ref, read timelineReader) {
	page, pageSize := pageParams(c)
	res, err := read(c.Request.Context(), owner, filterParams(c), page, pageSize)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, pageView(res, newActionView))
}

// Unread 未读数
// @Summary 未读数与上次已读时间
// @Tags 时间线
// @Produce json
// @Security BearerAuth
// @Param verb query string false "动作过滤"
// @Param target_kind query string false "目标类型过滤"
// @Success 200 {object} response.Response{data=service.Unread}
// @Router /api/v1/timeline/unread [get]
func (h *Handler) Unread(c *gin.Context) {
	owner, ok := caller(c)
	if !ok {
		return
	}
	res, err := h.timelineService.Unread(c.Request.Context(), owner, filterParams(c))
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, res)
}

type markReadRequest struct {
	At int64 `json:"at" binding:"gte=0"` // unix 秒，0 表示当前时间
}

// MarkAsRead 标记已读
// @Summary 标记时间线已读
// @Tags 时间线
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body markReadRequest false "已读时间"
// @Success 200 {object} response.Response
// @Router /api/v1/timeline/read [post]
func (h *Handler) MarkAsRead(c *gin.Context) {
	owner, ok := caller(c)
	if !ok {
		return
	}
	var req markReadRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
	}
	var at time.Time
	if req.At > 0 {
		at = time.Unix(req.At, 0)
	}
	if err := h.timelineService.MarkAsRead(c.Request.Context(), owner, at); err != nil {
		fail(c, err)
		return
	}
	response.Success(c, nil)
}
