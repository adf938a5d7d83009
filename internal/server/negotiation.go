package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	negotiationdomain "github.com/tripdeal/bargain/internal/negotiation/domain"
)

type startSessionRequest struct {
	User struct {
		ID     string `json:"id"`
		Tier   string `json:"tier"`
		Device string `json:"device"`
	} `json:"user"`
	Product   string  `json:"product"`
	PromoCode *string `json:"promoCode"`
}

func (s *Server) StartSession(c *gin.Context) {
	var req startSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.negotiationSvc.Start(c.Request.Context(), negotiationdomain.StartRequest{
		User: negotiationdomain.BuyerInfo{
			ID:     strings.TrimSpace(req.User.ID),
			Tier:   strings.TrimSpace(req.User.Tier),
			Device: strings.TrimSpace(req.User.Device),
		},
		Product:   strings.TrimSpace(req.Product),
		PromoCode: req.PromoCode,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Set("session_id", resp.SessionID)
	c.JSON(http.StatusOK, resp)
}

type submitOfferRequest struct {
	SessionID string         `json:"sessionId"`
	UserOffer *float64       `json:"userOffer"`
	Signals   map[string]any `json:"signals"`
}

func (s *Server) SubmitOffer(c *gin.Context) {
	var req submitOfferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	c.Set("session_id", req.SessionID)
	resp, err := s.negotiationSvc.Offer(c.Request.Context(), negotiationdomain.OfferRequest{
		SessionID: strings.TrimSpace(req.SessionID),
		UserOffer: req.UserOffer,
		Signals:   req.Signals,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

type acceptOfferRequest struct {
	SessionID string `json:"sessionId"`
}

func (s *Server) AcceptOffer(c *gin.Context) {
	var req acceptOfferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	c.Set("session_id", req.SessionID)
	resp, err := s.negotiationSvc.Accept(c.Request.Context(), negotiationdomain.AcceptRequest{
		SessionID: strings.TrimSpace(req.SessionID),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
