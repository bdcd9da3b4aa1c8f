package configuration

import (
	"encoding/json"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type MongoConfig struct {
	Uri                     string `json:"uri"`
	Database                string `json:"database"`
	UsersCollection         string `json:"usersCollection"`
	ConversationsCollection string `json:"conversationsCollection"`
	LinksCollection         string `json:"linksCollection"`
	MessagesCollection      string `json:"messagesCollection"`
	PresenceCollection      string `json:"presenceCollection"`
	SocketRoute             string `json:"socketRoute"`
}

type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	Db       int    `json:"db"`
}

type AiConfig struct {
	BaseUrl  string `json:"baseUrl"`
	Model    string `json:"model"`
	Simulate bool   `json:"simulate"`
	// ApiKey comes from the environment only, never from the file.
	ApiKey string `json:"-"`
}

type ServerConfig struct {
	AppPort        int      `json:"app_port"`
	SocketPort     int      `json:"socket_port"`
	AllowedOrigins []string `json:"allowed_origins"`
}

type Config struct {
	ChatDatabase MongoConfig  `json:"mongo"`
	Redis        RedisConfig  `json:"redis"`
	Ai           AiConfig     `json:"ai"`
	Server       ServerConfig `json:"server"`
}

// LoadConfig reads the JSON config file, then applies environment
// overrides. A .env file is loaded first if present; missing .env is not
// an error.
func LoadConfig(configPath string) (*Config, error) {
	_ = godotenv.Load()

	file, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	var config Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, err
	}

	applyEnvOverrides(&config)
	return &config, nil
}

func applyEnvOverrides(c *Config) {
	if v := os.Getenv("MONGO_URI"); v != "" {
		c.ChatDatabase.Uri = v
	}
	if v := os.Getenv("MONGO_DATABASE"); v != "" {
		c.ChatDatabase.Database = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("AI_BASE_URL"); v != "" {
		c.Ai.BaseUrl = v
	}
	if v := os.Getenv("AI_MODEL"); v != "" {
		c.Ai.Model = v
	}
	if v := os.Getenv("AI_SIMULATE"); v != "" {
		c.Ai.Simulate, _ = strconv.ParseBool(v)
	}
	c.Ai.ApiKey = os.Getenv("AI_API_KEY")

	if v := os.Getenv("APP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.AppPort = port
		}
	}
	if v := os.Getenv("SOCKET_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.SocketPort = port
		}
	}
}
