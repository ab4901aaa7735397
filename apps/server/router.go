package main

import (
	"errors"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/mahaj/chat-backbone/pkg/auth"
	"github.com/mahaj/chat-backbone/pkg/registry"
	"github.com/mahaj/chat-backbone/pkg/service"
	"github.com/mahaj/chat-backbone/pkg/store"
)

type handlers struct {
	svc      *service.Service
	store    *store.Store
	provider auth.Provider
	registry *registry.Registry
}

func (h *handlers) router() *gin.Engine {
	r := gin.Default()
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: true,
	}))

	r.POST("/login", h.login)
	r.GET("/ws", auth.Middleware(h.provider), h.websocket)

	convs := r.Group("/conversations", auth.Middleware(h.provider))
	{
		convs.POST("", h.createConversation)
		convs.GET("", h.listConversations)
		convs.POST("/:id/participants", h.addParticipants)
		convs.DELETE("/:id/participants", h.leaveConversation)
		convs.POST("/:id/messages", h.sendMessage)
		convs.GET("/:id/messages", h.listMessages)
		convs.PUT("/:id/messages/read", h.markRead)
		convs.DELETE("/:id/messages/:message_id", h.deleteMessage)
	}

	return r
}

// writeError maps the service error taxonomy to transport status codes.
// This is the only place the mapping exists.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrConflict):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func currentUser(c *gin.Context) string {
	return c.GetString(auth.UserIDKey)
}
