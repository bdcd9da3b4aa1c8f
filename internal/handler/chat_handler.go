package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Achen718/socket-chat-ui-sub000/internal/service"
	"github.com/Achen718/socket-chat-ui-sub000/internal/usercache"
)

type ChatHandler interface {
	ListConversations(c *gin.Context)
	CreateConversation(c *gin.Context)
	GetMessages(c *gin.Context)
	SendMessage(c *gin.Context)
	GetUser(c *gin.Context)
	GetUsers(c *gin.Context)
	PurgeConversation(c *gin.Context)
	MigrateLegacyLinks(c *gin.Context)
	DeleteUserData(c *gin.Context)
}

type chatHandler struct {
	service service.ChatService
}

func NewChatHandler(service service.ChatService) ChatHandler {
	return &chatHandler{service: service}
}

func (h *chatHandler) ListConversations(c *gin.Context) {
	userID := c.Param("userId")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "userId is required"})
		return
	}

	convs, err := h.service.ListConversations(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list conversations"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"conversations": convs})
}

type createConversationRequest struct {
	Participants []string `json:"participants" binding:"required"`
}

func (h *chatHandler) CreateConversation(c *gin.Context) {
	var req createConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "participants are required"})
		return
	}

	conv, err := h.service.CreateOrGetConversation(c.Request.Context(), req.Participants)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create conversation"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"conversation": conv})
}

func (h *chatHandler) GetMessages(c *gin.Context) {
	conversationID := c.Param("conversationId")
	page := c.DefaultQuery("page", "1")
	pageNumber, err := strconv.ParseInt(page, 10, 64)
	if err != nil || pageNumber < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid page number"})
		return
	}

	msgs, err := h.service.GetMessages(c.Request.Context(), conversationID, pageNumber)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get messages"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

type sendMessageRequest struct {
	SenderID string `json:"senderId" binding:"required"`
	Content  string `json:"content" binding:"required"`
}

func (h *chatHandler) SendMessage(c *gin.Context) {
	conversationID := c.Param("conversationId")

	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "senderId and content are required"})
		return
	}

	msg, err := h.service.SendMessage(c.Request.Context(), conversationID, req.SenderID, req.Content)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to send message"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": msg})
}

func (h *chatHandler) GetUser(c *gin.Context) {
	userID := c.Param("userId")

	user, err := h.service.GetUser(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get user"})
		return
	}
	if user == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user":        user,
		"displayName": usercache.FormatDisplayName(user),
	})
}

type getUsersRequest struct {
	UserIDs []string `json:"userIds" binding:"required"`
}

func (h *chatHandler) GetUsers(c *gin.Context) {
	var req getUsersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "userIds are required"})
		return
	}

	users, err := h.service.GetUsers(c.Request.Context(), req.UserIDs)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get users"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"users": users})
}

func (h *chatHandler) PurgeConversation(c *gin.Context) {
	conversationID := c.Param("conversationId")

	if err := h.service.PurgeConversation(c.Request.Context(), conversationID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to purge conversation"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"purged": conversationID})
}

func (h *chatHandler) MigrateLegacyLinks(c *gin.Context) {
	migrated, err := h.service.MigrateLegacyLinks(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to migrate links"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"migrated": migrated})
}

func (h *chatHandler) DeleteUserData(c *gin.Context) {
	userID := c.Param("userId")

	if err := h.service.DeleteUserData(c.Request.Context(), userID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete user data"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted": userID})
}
