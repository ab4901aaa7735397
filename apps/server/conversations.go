package main

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type createConversationRequest struct {
	Title          string   `json:"title"`
	IsGroup        bool     `json:"is_group"`
	ParticipantIDs []string `json:"participant_ids"`
}

func (h *handlers) createConversation(c *gin.Context) {
	var req createConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	conv, err := h.svc.CreateConversation(c.Request.Context(), currentUser(c), req.Title, req.IsGroup, req.ParticipantIDs)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, conv)
}

func (h *handlers) listConversations(c *gin.Context) {
	summaries, err := h.svc.Summaries(c.Request.Context(), currentUser(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, summaries)
}

type addParticipantsRequest struct {
	ParticipantIDs []string `json:"participant_ids"`
}

func (h *handlers) addParticipants(c *gin.Context) {
	var req addParticipantsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if err := h.svc.AddParticipants(c.Request.Context(), c.Param("id"), currentUser(c), req.ParticipantIDs); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *handlers) leaveConversation(c *gin.Context) {
	if err := h.svc.Leave(c.Request.Context(), c.Param("id"), currentUser(c)); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
