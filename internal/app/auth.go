// internal/app/auth.go
package app

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/shrimpsizemoose/trekker/logger"
)

type Auth struct {
	enabled     bool
	redis       *redis.Client
	keyTemplate string
	tokenHeader string
}

func NewAuth(config *Config) (*Auth, error) {
	if !config.Server.EnableAuth {
		return &Auth{enabled: false, tokenHeader: config.Auth.TokenHeader}, nil
	}

	client, err := NewRedisClient(config.Auth.RedisURL)
	if err != nil {
		return nil, err
	}

	return &Auth{
		enabled:     true,
		redis:       client,
		keyTemplate: config.Auth.TokenKeyTemplate,
		tokenHeader: config.Auth.TokenHeader,
	}, nil
}

func NewRedisClient(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opt)
	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

func (a *Auth) Close() error {
	if a.redis != nil {
		return a.redis.Close()
	}
	return nil
}

func (a *Auth) Key(courseID, userID int64) string {
	return strings.NewReplacer(
		"{course}", strconv.FormatInt(courseID, 10),
		"{student}", strconv.FormatInt(userID, 10),
	).Replace(a.keyTemplate)
}

func (a *Auth) ValidateToken(ctx context.Context, courseID, userID int64, token string) error {
	if !a.enabled {
		return nil
	}

	key := a.Key(courseID, userID)

	fields, err := a.redis.HGetAll(ctx, key).Result()
	if err == redis.Nil || (err == nil && len(fields) == 0) {
		logger.Debug.Printf("Token not found for key: %s", key)
		return fmt.Errorf("token not found")
	}
	if err != nil {
		logger.Debug.Printf("Redis error: %v", err)
		return fmt.Errorf("redis error: %w", err)
	}

	if fields["token"] != token {
		logger.Debug.Printf(
			"Token mismatch for course/student=%d/%d and what's found in %s",
			courseID,
			userID,
			key,
		)
		return fmt.Errorf("invalid token")
	}

	return nil
}
