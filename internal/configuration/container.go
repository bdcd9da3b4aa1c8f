package configuration

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/Achen718/socket-chat-ui-sub000/internal/ai"
	"github.com/Achen718/socket-chat-ui-sub000/internal/db"
	"github.com/Achen718/socket-chat-ui-sub000/internal/faults"
	"github.com/Achen718/socket-chat-ui-sub000/internal/handler"
	"github.com/Achen718/socket-chat-ui-sub000/internal/hub"
	"github.com/Achen718/socket-chat-ui-sub000/internal/lifecycle"
	"github.com/Achen718/socket-chat-ui-sub000/internal/model"
	"github.com/Achen718/socket-chat-ui-sub000/internal/presence"
	"github.com/Achen718/socket-chat-ui-sub000/internal/repo"
	"github.com/Achen718/socket-chat-ui-sub000/internal/service"
	"github.com/Achen718/socket-chat-ui-sub000/internal/session"
	"github.com/Achen718/socket-chat-ui-sub000/internal/usercache"
)

// Container owns construction and teardown of every shared service.
type Container struct {
	ChatHandler     handler.ChatHandler
	MonitorHandler  handler.MonitorHandler
	PresenceHandler handler.PresenceHandler
	Hub             *hub.Hub
	Registry        *lifecycle.Registry
	PresenceManager *presence.Manager
	SessionManager  *session.Manager
	Config          Config
	Logger          *zap.Logger

	// private - for cleanup
	mongoClient *mongo.Database
	userCache   *usercache.Cache
}

func BuildContainer(configPath string) (*Container, error) {
	config, err := LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}

	con, err := db.OpenConnection(config.ChatDatabase.Uri, config.ChatDatabase.Database)
	if err != nil {
		return nil, err
	}

	userStore := db.NewRepository[model.User](con, config.ChatDatabase.UsersCollection)
	convStore := db.NewRepository[model.Conversation](con, config.ChatDatabase.ConversationsCollection)
	linkStore := db.NewRepository[model.UserConversationLink](con, config.ChatDatabase.LinksCollection)
	msgStore := db.NewRepository[model.Message](con, config.ChatDatabase.MessagesCollection)
	presenceStore := db.NewRepository[model.PresenceRecord](con, config.ChatDatabase.PresenceCollection)

	userRepo := repo.NewUserRepository(userStore, logger)
	convRepo := repo.NewConversationRepository(con, convStore, linkStore, msgStore, logger)
	msgRepo := repo.NewMessageRepository(msgStore, logger)
	presenceRepo := repo.NewPresenceRepository(con, presenceStore, userStore, logger)

	// The persisted cache tier is best-effort: an unreachable redis
	// degrades to in-memory only.
	var persist usercache.Persistence
	if config.Redis.Addr != "" {
		redisPersist, err := usercache.NewRedisPersistence(config.Redis.Addr, config.Redis.Password, config.Redis.Db)
		if err != nil {
			logger.Warn("redis unavailable, user cache runs in-memory only", zap.Error(err))
		} else {
			persist = redisPersist
		}
	}
	userCache := usercache.New(userRepo, persist, logger)

	registry := lifecycle.NewRegistry(logger)
	throttle := lifecycle.NewThrottle(logger)
	watchdog := lifecycle.NewWatchdog(logger)
	faultLog := faults.NewLog(logger)

	var provider ai.Provider
	if config.Ai.Simulate {
		provider = ai.NewSimulator()
	} else {
		provider = ai.NewClient(config.Ai.BaseUrl, config.Ai.ApiKey, config.Ai.Model)
	}
	orchestrator := ai.NewOrchestrator(provider, msgRepo, convRepo, faultLog, logger)

	chatService := service.NewChatService(convRepo, msgRepo, userCache, orchestrator, logger)

	h := hub.NewHub(msgRepo, logger)
	if len(config.Server.AllowedOrigins) > 0 {
		hub.SetAllowedOrigins(config.Server.AllowedOrigins)
	}

	presenceManager := presence.NewManager(presenceRepo, registry, logger)
	presenceWatcher := presence.NewWatcher(presenceRepo, logger)
	sessionManager := session.NewManager(convRepo, msgRepo, registry, throttle, watchdog, faultLog, h, presenceWatcher, logger)

	// When a user's last connection drops, their synchronizer and
	// presence engine go with it.
	h.OnUserDisconnect(func(userID string) {
		sessionManager.Teardown(userID)
		presenceManager.Teardown(userID)
	})

	return &Container{
		ChatHandler:     handler.NewChatHandler(chatService),
		MonitorHandler:  handler.NewMonitorHandler(hub.NewMonitorService(h, watchdog)),
		PresenceHandler: handler.NewPresenceHandler(presenceRepo),
		Hub:             h,
		Registry:        registry,
		PresenceManager: presenceManager,
		SessionManager:  sessionManager,
		Config:          *config,
		Logger:          logger,
		mongoClient:     con,
		userCache:       userCache,
	}, nil
}

// Close gracefully shuts down all connections.
func (c *Container) Close() error {
	if c.Hub != nil {
		c.Hub.Stop()
	}

	// Tear down every registered subscription and heartbeat.
	if c.Registry != nil {
		c.Registry.Cleanup()
	}

	// Flush pending cache writes before the stores go away.
	if c.userCache != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		c.userCache.Flush(ctx)
		cancel()
	}

	if c.Logger != nil {
		_ = c.Logger.Sync()
	}

	if c.mongoClient != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.mongoClient.Client().Disconnect(ctx); err != nil {
			return fmt.Errorf("failed to close MongoDB connection: %w", err)
		}
	}

	return nil
}
