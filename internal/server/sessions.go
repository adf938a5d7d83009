package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	sessiondomain "github.com/tripdeal/bargain/internal/session/domain"
	"github.com/tripdeal/bargain/pkg/db/pagination"
)

// ListSessions pages through the durable session record for audit review.
func (s *Server) ListSessions(c *gin.Context) {
	var query struct {
		pagination.Pagination
		BuyerID    string `form:"buyer_id"`
		ProductKey string `form:"product_key"`
		Status     string `form:"status"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	limit := query.PageSize
	if limit <= 0 {
		limit = 10
	}

	sessions, err := s.sessionRepo.List(c.Request.Context(), s.db, sessiondomain.ListSessionFilter{
		BuyerID:    strings.TrimSpace(query.BuyerID),
		ProductKey: strings.TrimSpace(query.ProductKey),
		Status:     strings.TrimSpace(query.Status),
	}, query.Pagination)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	pageInfo := pagination.BuildCursorPageInfo(sessions, int32(limit), func(session *sessiondomain.NegotiationSession) string {
		token, _ := pagination.EncodeCursor(pagination.Cursor{ID: session.ID})
		return token
	})
	if len(sessions) > limit {
		sessions = sessions[:limit]
	}

	c.JSON(http.StatusOK, gin.H{
		"data":      sessions,
		"page_info": pageInfo,
	})
}
