package main

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/mahaj/chat-backbone/pkg/realtime"
)

type loginRequest struct {
	Username string `json:"username"`
}

type loginResponse struct {
	Token  string `json:"token"`
	UserID string `json:"user_id"`
}

// login issues a token for a username, creating the user on first sight.
// Real credential checking belongs to whatever auth provider fronts this
// service; this endpoint only exists so the system is usable standalone.
func (h *handlers) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Username == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username is required"})
		return
	}

	user, err := h.store.EnsureUser(c.Request.Context(), uuid.NewString(), req.Username)
	if err != nil {
		writeError(c, err)
		return
	}

	token, err := h.provider.IssueToken(user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue token"})
		return
	}
	c.JSON(http.StatusOK, loginResponse{Token: token, UserID: user.ID})
}

// websocket upgrades an authenticated request into a realtime session.
func (h *handlers) websocket(c *gin.Context) {
	realtime.Serve(h.registry, currentUser(c), c.Writer, c.Request)
}
