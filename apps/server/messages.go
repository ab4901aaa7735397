package main

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mahaj/chat-backbone/pkg/service"
)

func (h *handlers) sendMessage(c *gin.Context) {
	var in service.SendInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	msg, err := h.svc.Send(c.Request.Context(), c.Param("id"), currentUser(c), in)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

func (h *handlers) listMessages(c *gin.Context) {
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 1 && n <= 100 {
			limit = n
		}
	}

	page, err := h.svc.List(c.Request.Context(), c.Param("id"), currentUser(c), limit, c.Query("cursor"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

type readRequest struct {
	LastSeenMessageID string `json:"last_seen_message_id"`
}

func (h *handlers) markRead(c *gin.Context) {
	var req readRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if err := h.svc.MarkRead(c.Request.Context(), c.Param("id"), currentUser(c), req.LastSeenMessageID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *handlers) deleteMessage(c *gin.Context) {
	if err := h.svc.Delete(c.Request.Context(), c.Param("id"), currentUser(c), c.Param("message_id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}
