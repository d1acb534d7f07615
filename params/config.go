package params

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type API struct {
	Addr           string
	AllowedOrigins []string
}

type Engine struct {
	QueueSize int
	BatchMax  int
}

type Auth struct {
	JWTSecret string
}

type Storage struct {
	DBPath string
}

type Events struct {
	BusCapacity int
}

type Config struct {
	API     API
	Engine  Engine
	Auth    Auth
	Storage Storage
	Events  Events
	LogFile string
}

func Default() Config {
	return Config{
		API: API{
			Addr:           ":8080",
			AllowedOrigins: []string{"http://localhost:3000", "http://localhost:3001"},
		},
		Engine: Engine{
			QueueSize: 1024,
			BatchMax:  256,
		},
		Auth: Auth{
			JWTSecret: "dev-secret-change-me",
		},
		Storage: Storage{
			DBPath: "data/perpd",
		},
		Events: Events{
			BusCapacity: 4096,
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	// Try to load .env file (optional - won't fail if not exists)
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load() // loads .env from current directory
	}

	if addr := os.Getenv("API_ADDR"); addr != "" {
		cfg.API.Addr = addr
	}
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.API.AllowedOrigins = strings.Split(origins, ",")
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		cfg.Auth.JWTSecret = secret
	}
	if path := os.Getenv("DB_PATH"); path != "" {
		cfg.Storage.DBPath = path
	}
	if logFile := os.Getenv("LOG_FILE"); logFile != "" {
		cfg.LogFile = logFile
	}

	if qs := os.Getenv("ENGINE_QUEUE_SIZE"); qs != "" {
		if n, err := strconv.Atoi(qs); err == nil && n > 0 {
			cfg.Engine.QueueSize = n
		}
	}
	if bm := os.Getenv("ENGINE_BATCH_MAX"); bm != "" {
		if n, err := strconv.Atoi(bm); err == nil && n > 0 {
			cfg.Engine.BatchMax = n
		}
	}
	if busCap := os.Getenv("EVENT_BUS_CAPACITY"); busCap != "" {
		if n, err := strconv.Atoi(busCap); err == nil && n > 0 {
			cfg.Events.BusCapacity = n
		}
	}

	return cfg
}
