package config

import (
	"os"

	"github.com/joho/godotenv"
)

// Env holds process settings that come from the environment rather than
// the config file.
type Env struct {
	ConfigPath string
	Port       string
	HealthPort string

	RedisAddress  string
	RedisPassword string

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	S3Endpoint   string
	S3AccessKey  string
	S3SecretKey  string
	S3BucketName string
	S3Region     string
}

// LoadEnv reads a .env file when present and then the process environment.
func LoadEnv() *Env {
	_ = godotenv.Load()

	return &Env{
		ConfigPath: getEnv("INSTANCER_CONFIG", "config.toml"),
		Port:       getEnv("INSTANCER_PORT", "8000"),
		HealthPort: getEnv("HEALTH_PORT", "50070"),

		RedisAddress:  os.Getenv("REDIS_ADDRESS"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),

		DBHost:     os.Getenv("DB_HOST"),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBUser:     getEnv("DB_USER", "root"),
		DBPassword: getEnv("DB_PASSWORD", "password"),
		DBName:     getEnv("DB_NAME", "ctf_instancer_db"),

		S3Endpoint:   os.Getenv("S3_ENDPOINT"),
		S3AccessKey:  getEnv("S3_ACCESS_KEY", "minioadmin"),
		S3SecretKey:  getEnv("S3_SECRET_KEY", "minioadmin"),
		S3BucketName: getEnv("S3_BUCKET_NAME", "instance-logs"),
		S3Region:     getEnv("S3_REGION", "us-east-1"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
