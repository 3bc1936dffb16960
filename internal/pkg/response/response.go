package response

import (
	"net/http"
	"reflect"

	"github.com/gin-gonic/gin"
)

// Pagination metadata returned with paginated responses.
type Pagination struct {
	Total       int64 `json:"total"`
	CurrentPage int   `json:"current_page"`
	TotalPage   int   `json:"total_page"`
	Size        int   `json:"size"`
	HasNextPage bool  `json:"has_next_page"`
}

// pagedResponse is the envelope for paginated list responses.
type pagedResponse struct {
	Data       interface{} `json:"data"`
	Pagination Pagination  `json:"pagination"`
}

// OK sends a 200 response. Arrays/slices are wrapped in {data: [...]}.
func OK(c *gin.Context, data interface{}) {
	if data != nil {
		v := reflect.ValueOf(data)
		if v.Kind() == reflect.Slice {
			c.JSON(http.StatusOK, gin.H{"data": data})
			return
		}
	}
	c.JSON(http.StatusOK, data)
}

// Paged sends a 200 response with pagination metadata.
func Paged(c *gin.Context, data interface{}, pagination Pagination) {
	c.JSON(http.StatusOK, pagedResponse{
		Data:       data,
		Pagination: pagination,
	})
}

// Created sends a 201 response.
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, data)
}

// NoContent sends a 204 response.
func NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// BadRequest sends a 400 error response.
func BadRequest(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"ok": 0, "code": http.StatusBadRequest, "message": message})
}

// Unauthorized sends a 401 error response. Every authentication and
// authorization failure uses this one generic message; the distinguishing
// detail goes to the audit trail only.
func Unauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"ok": 0, "code": http.StatusUnauthorized, "message": "登录状态已失效，请重新登录"})
}

// Forbidden sends a 403 error response.
func Forbidden(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"ok": 0, "code": http.StatusForbidden, "message": "没有权限进行此操作"})
}

// NotFound sends a 404 error response.
func NotFound(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"ok": 0, "code": http.StatusNotFound, "message": "内容不存在"})
}

// MethodNotAllowed sends a 405 error response.
func MethodNotAllowed(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusMethodNotAllowed, gin.H{"ok": 0, "code": http.StatusMethodNotAllowed, "message": "Method Not Allowed"})
}

// InternalError sends a 500 error response.
func InternalError(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"ok": 0, "code": http.StatusInternalServerError, "message": err.Error()})
}

// UnprocessableEntity sends a 422 error response.
func UnprocessableEntity(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"ok": 0, "code": http.StatusUnprocessableEntity, "message": message})
}
