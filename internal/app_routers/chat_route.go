package approuters

import (
	"github.com/gin-gonic/gin"

	"github.com/Achen718/socket-chat-ui-sub000/internal/configuration"
)

func ChatRouters(router *gin.Engine, container *configuration.Container) {
	api := router.Group("/api")
	{
		api.GET("/users/:userId", container.ChatHandler.GetUser)
		api.POST("/users/lookup", container.ChatHandler.GetUsers)
		api.GET("/users/:userId/conversations", container.ChatHandler.ListConversations)
		api.GET("/users/:userId/presence", container.PresenceHandler.GetPresence)

		api.POST("/conversations", container.ChatHandler.CreateConversation)
		api.GET("/conversations/:conversationId/messages", container.ChatHandler.GetMessages)
		api.POST("/conversations/:conversationId/messages", container.ChatHandler.SendMessage)
	}

	admin := router.Group("/api/admin")
	{
		admin.DELETE("/conversations/:conversationId", container.ChatHandler.PurgeConversation)
		admin.POST("/migrate-links", container.ChatHandler.MigrateLegacyLinks)
		admin.DELETE("/users/:userId/data", container.ChatHandler.DeleteUserData)
	}
}
