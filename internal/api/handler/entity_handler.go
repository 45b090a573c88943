package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/followgraph/internal/model"
	"github.com/d60-Lab/followgraph/pkg/response"
)

type createUserRequest struct {
	Username string `json:"username" binding:"required,max=64"`
	Email    string `json:"email" binding:"omitempty,email"`
	Age      int    `json:"age" binding:"gte=0"`
}

// CreateUser 注册用户并签发令牌
// @Summary 注册用户
// @Tags 实体
// @Accept json
// @Produce json
// @Param request body createUserRequest true "用户信息"
// @Success 200 {object} response.Response{data=map[string]interface{}}
// @Failure 400 {object} response.Response
// @Router /api/v1/users [post]
func (h *Handler) CreateUser(c *gin.Context) {
	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	u := &model.User{Username: req.Username, Email: req.Email, Age: req.Age}
	if err := h.repos.Users.Create(c.Request.Context(), u); err != nil {
		fail(c, err)
		return
	}
	token, err := h.tokens.Issue(model.KindUser, u.ID)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.Success(c, gin.H{"user": u, "token": token})
}

type createProjectRequest struct {
	Name string `json:"name" binding:"required,max=128"`
}

// CreateProject 创建项目，调用方为拥有者
// @Summary 创建项目
// @Tags 实体
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body createProjectRequest true "项目信息"
// @Success 200 {object} response.Response{data=model.Project}
// @Router /api/v1/projects [post]
func (h *Handler) CreateProject(c *gin.Context) {
	owner, ok := caller(c)
	if !ok {
		return
	}
	var req createProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	p := &model.Project{Name: req.Name, OwnerID: owner.ID}
	if err := h.repos.Projects.Create(c.Request.Context(), p); err != nil {
		fail(c, err)
		return
	}
	response.Success(c, p)
}

type publishRequest struct {
	Payload   string `json:"payload" binding:"required"`
	ProjectID *int64 `json:"project_id" binding:"omitempty,gt=0"`
}

// Publish 发帖并扇出到粉丝时间线
// @Summary 发帖
// @Tags 实体
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body publishRequest true "帖子"
// @Success 200 {object} response.Response{data=map[string]interface{}}
// @Failure 404 {object} response.Response
// @Router /api/v1/posts [post]
func (h *Handler) Publish(c *gin.Context) {
	author, ok := caller(c)
	if !ok {
		return
	}
	if author.Kind != model.KindUser {
		response.BadRequest(c, "only users can publish")
		return
	}
	var req publishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	post, action, err := h.publisher.Publish(c.Request.Context(), author, req.ProjectID, req.Payload)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, gin.H{"post": post, "action": newActionView(action)})
}

