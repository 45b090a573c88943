package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/followgraph/internal/registry"
	"github.com/d60-Lab/followgraph/pkg/jwt"
	"github.com/d60-Lab/followgraph/pkg/response"
)

const callerKey = "caller"

// Auth 解析 Bearer 令牌，把调用方实体写入上下文
func Auth(m *jwt.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			response.Unauthorized(c, "missing bearer token")
			return
		}
		claims, err := m.Parse(parts[1])
		if err != nil {
			response.Unauthorized(c, err.Error())
			return
		}
		ref := registry.Ref{Kind: claims.Kind, ID: claims.ObjectID}
		if !ref.Valid() {
			response.Unauthorized(c, "invalid caller")
			return
		}
		c.Set(callerKey, ref)
		c.Next()
	}
}

// Caller 返回 Auth 写入的调用方
func Caller(c *gin.Context) (registry.Ref, bool) {
	v, ok := c.Get(callerKey)
	if !ok {
		return registry.Ref{}, false
	}
	ref, ok := v.(registry.Ref)
	return ref, ok
}
