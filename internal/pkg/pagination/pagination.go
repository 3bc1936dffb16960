// Package pagination turns page/size query parameters into bounded GORM
// limit/offset queries. The security audit listing is its main consumer, so
// MaxSize caps how much of the trail a single request can pull.
package pagination

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/yyupcompany/kinder-core/internal/pkg/response"
	"gorm.io/gorm"
)

const (
	DefaultPage = 1
	DefaultSize = 10
	MaxSize     = 100
)

// Query holds parsed pagination parameters.
type Query struct {
	Page int
	Size int
}

// FromContext extracts pagination params from the request, clamping them into
// valid bounds. Absent or unparsable values fall back to the defaults.
func FromContext(c *gin.Context) Query {
	q := Query{Page: DefaultPage, Size: DefaultSize}
	if v, err := strconv.Atoi(c.Query("page")); err == nil {
		q.Page = v
	}
	if v, err := strconv.Atoi(c.Query("size")); err == nil {
		q.Size = v
	}

	if q.Page < 1 {
		q.Page = 1
	}
	if q.Size < 1 {
		q.Size = DefaultSize
	}
	if q.Size > MaxSize {
		q.Size = MaxSize
	}
	return q
}

// Paginate applies limit/offset to a GORM query and returns the pagination metadata.
func Paginate[T any](db *gorm.DB, q Query, dest *[]T) (response.Pagination, error) {
	var total int64
	if err := db.Count(&total).Error; err != nil {
		return response.Pagination{}, err
	}

	offset := (q.Page - 1) * q.Size
	if err := db.Offset(offset).Limit(q.Size).Find(dest).Error; err != nil {
		return response.Pagination{}, err
	}

	totalPage := int((total + int64(q.Size) - 1) / int64(q.Size))

	return response.Pagination{
		Total:       total,
		CurrentPage: q.Page,
		TotalPage:   totalPage,
		Size:        q.Size,
		HasNextPage: q.Page < totalPage,
	}, nil
}
