package database

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/joho/godotenv/autoload"
)

type Service interface {
	Pool() *pgxpool.Pool
	Health() map[string]string
	Close() error
}

type service struct {
	pool *pgxpool.Pool
}

var (
	database   = getEnv("CRASH_DB_DATABASE", "crashdb")
	password   = getEnv("CRASH_DB_PASSWORD", "postgres")
	username   = getEnv("CRASH_DB_USERNAME", "postgres")
	port       = getEnv("CRASH_DB_PORT", "5432")
	host       = getEnv("CRASH_DB_HOST", "localhost")
	schema     = getEnv("CRASH_DB_SCHEMA", "public")
	dbInstance *service
)

func New() Service {
	if dbInstance != nil {
		return dbInstance
	}

	connStr := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable&search_path=%s",
		username, password, host, port, database, schema)

	cfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		log.Fatalf("[DB] Invalid connection config: %v", err)
	}
	cfg.MaxConns = 50
	cfg.MinConns = 5

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		log.Fatalf("[DB] Connection failed: %v", err)
	}

	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("[DB] Ping failed: %v", err)
	}

	log.Println("[DB] Postgres connected successfully")

	dbInstance = &service{pool: pool}
	return dbInstance
}

func (s *service) Pool() *pgxpool.Pool {
	return s.pool
}

func (s *service) Health() map[string]string {
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	stats := make(map[string]string)

	if err := s.pool.Ping(ctx); err != nil {
		stats["status"] = "down"
		stats["error"] = fmt.Sprintf("db down: %v", err)
		return stats
	}

	stats["status"] = "up"
	stats["message"] = "It's healthy"

	poolStats := s.pool.Stat()
	stats["total_conns"] = strconv.FormatInt(int64(poolStats.TotalConns()), 10)
	stats["idle_conns"] = strconv.FormatInt(int64(poolStats.IdleConns()), 10)
	stats["acquired_conns"] = strconv.FormatInt(int64(poolStats.AcquiredConns()), 10)
	stats["acquire_count"] = strconv.FormatInt(poolStats.AcquireCount(), 10)

	return stats
}

func (s *service) Close() error {
	log.Printf("[DB] Disconnecting from database: %s", database)
	s.pool.Close()
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
