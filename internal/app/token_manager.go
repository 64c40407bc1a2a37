package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shrimpsizemoose/gradebook/internal/models"
)

const (
	timeFormat   = "2006-01-02 15:04:05"
	lookupKeyTpl = "lookup:%d" // lookup:${course}
	tokenPrefix  = "sk-grdbk-"
)

// TokenManager issues API tokens for students and keeps the telegram username -> user id mapping.
// Token keys are built by Auth so the server validates exactly what the bot writes.
type TokenManager struct {
	redis *redis.Client
	auth  *Auth
}

func NewTokenManager(redis *redis.Client, config *Config) *TokenManager {
	return &TokenManager{
		redis: redis,
		auth:  &Auth{keyTemplate: config.Auth.TokenKeyTemplate},
	}
}

func generateToken() (string, error) {
	randomBytes := make([]byte, 12)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	return tokenPrefix + hex.EncodeToString(randomBytes), nil
}

func (tm *TokenManager) FetchOrCreateStudentToken(ctx context.Context, courseID, userID int64) (*models.TokenInfo, bool, error) {
	key := tm.auth.Key(courseID, userID)

	token, err := tm.redis.HGet(ctx, key, "token").Result()
	if err != nil && err != redis.Nil {
		return nil, false, fmt.Errorf("failed to check token: %w", err)
	}

	now := time.Now().UTC()
	isNewToken := false

	if err == redis.Nil {
		token, err = generateToken()
		if err != nil {
			return nil, false, fmt.Errorf("failed to generate token: %w", err)
		}

		pipe := tm.redis.Pipeline()
		pipe.HSet(ctx, key, map[string]interface{}{
			"token":                 token,
			"request_count":         1,
			"last_request_dttm_utc": now.Format(timeFormat),
			"created_dttm_utc":      now.Format(timeFormat),
		})

		if _, err := pipe.Exec(ctx); err != nil {
			return nil, false, fmt.Errorf("failed to create token: %w", err)
		}

		isNewToken = true
	} else {
		pipe := tm.redis.Pipeline()
		pipe.HIncrBy(ctx, key, "request_count", 1)
		pipe.HSet(ctx, key, "last_request_dttm_utc", now.Format(timeFormat))

		if _, err := pipe.Exec(ctx); err != nil {
			return nil, false, fmt.Errorf("failed to update token stats: %w", err)
		}
	}

	values, err := tm.redis.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to get token info: %w", err)
	}

	lastReqTime, _ := time.Parse(timeFormat, values["last_request_dttm_utc"])
	createdTime, _ := time.Parse(timeFormat, values["created_dttm_utc"])
	reqCount, _ := strconv.Atoi(values["request_count"])

	return &models.TokenInfo{
		Token:           values["token"],
		RequestCount:    reqCount,
		LastRequestTime: lastReqTime,
		CreatedTime:     createdTime,
	}, isNewToken, nil
}

func (tm *TokenManager) SaveStudentTelegramMapping(ctx context.Context, courseID int64, tgUsername string, userID int64) error {
	key := fmt.Sprintf(lookupKeyTpl, courseID)
	return tm.redis.HSet(ctx, key, tgUsername, userID).Err()
}

func (tm *TokenManager) FetchStudentIDByTelegram(ctx context.Context, courseID int64, tgUsername string) (int64, error) {
	key := fmt.Sprintf(lookupKeyTpl, courseID)
	raw, err := tm.redis.HGet(ctx, key, tgUsername).Result()
	if err == redis.Nil {
		return 0, fmt.Errorf("no mapping found for telegram user %s in course %d", tgUsername, courseID)
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(raw, 10, 64)
}

func (tm *TokenManager) FetchCourseMappings(ctx context.Context, courseID int64) (map[string]string, error) {
	key := fmt.Sprintf(lookupKeyTpl, courseID)
	return tm.redis.HGetAll(ctx, key).Result()
}

func (tm *TokenManager) Close() error {
	if tm.redis != nil {
		return tm.redis.Close()
	}
	return nil
}
