package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

func (s *Server) ReplaySession(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))

	c.Set("session_id", id)
	resp, err := s.negotiationSvc.Replay(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
