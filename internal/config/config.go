package config

import "os"

type Config struct {
	Env          string
	Port         string
	MongoURI     string
	MongoDB      string
	RedisAddr    string
	JWTSecret    string
	StoreBackend string // "redis" or "memory"
}

func Load() Config {
	return Config{
		Env:          getenv("APP_ENV", "dev"),
		Port:         getenv("PORT", "8080"),
		MongoURI:     getenv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDB:      getenv("MONGO_DB", "liftmates"),
		RedisAddr:    getenv("REDIS_ADDR", "localhost:6379"),
		JWTSecret:    getenv("JWT_SECRET", "dev-secret-change-me"),
		StoreBackend: getenv("STORE_BACKEND", "redis"),
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
