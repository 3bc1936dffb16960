package pagination

import (
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestFromContextClampsParams(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cases := []struct {
		name     string
		query    string
		wantPage int
		wantSize int
	}{
		{"defaults when absent", "", DefaultPage, DefaultSize},
		{"explicit values", "page=3&size=25", 3, 25},
		{"garbage falls back", "page=abc&size=xyz", DefaultPage, DefaultSize},
		{"zero page clamps to one", "page=0&size=10", 1, 10},
		{"negative size falls back", "page=2&size=-5", 2, DefaultSize},
		{"oversize clamps to max", "page=1&size=9999", 1, MaxSize},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			c.Request = httptest.NewRequest("GET", "/?"+tc.query, nil)

			q := FromContext(c)
			if q.Page != tc.wantPage || q.Size != tc.wantSize {
				t.Errorf("got page=%d size=%d, want page=%d size=%d", q.Page, q.Size, tc.wantPage, tc.wantSize)
			}
		})
	}
}
