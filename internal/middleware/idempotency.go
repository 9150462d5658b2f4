package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"ridesaga/internal/logging"
)

const (
	// IdempotencyKeyHeader names a client retry of the same write.
	IdempotencyKeyHeader = "Idempotency-Key"

	// IdempotentReplayHeader is set on responses served from the store.
	IdempotentReplayHeader = "Idempotent-Replayed"

	requestKeyPrefix = "idempotency:http:"
	requestKeyTTL    = 24 * time.Hour
	requestLockTTL   = 30 * time.Second
)

// storedRequest is what Redis holds for one Idempotency-Key.
// Pending is set while the first request is still being served.
type storedRequest struct {
	RequestHash string `json:"requestHash"`
	Pending     bool   `json:"pending,omitempty"`
	Status      int    `json:"status,omitempty"`
	ContentType string `json:"contentType,omitempty"`
	Body        []byte `json:"body,omitempty"`
}

type bodyRecorder struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (r *bodyRecorder) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

// IdempotencyMiddleware serves a retried write with the response its first attempt got.
//
// Keys are scoped by method and route. A retry that arrives while the first attempt is running gets 409,
// and a key reused for a different body gets 422. Server errors are not stored so the client can retry them.
// With a nil client, or when Redis is unreachable, requests pass straight through.
func IdempotencyMiddleware(client *redis.Client, logger logrus.FieldLogger) gin.HandlerFunc {
	if logger == nil {
		logger = logging.Discard()
	}
	log := logger.WithField("middleware", "idempotency")

	return func(c *gin.Context) {
		key := c.GetHeader(IdempotencyKeyHeader)
		if client == nil || key == "" || !isWrite(c.Request.Method) {
			c.Next()
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unreadable request body"})
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		ctx := c.Request.Context()
		storeKey := requestKeyPrefix + c.Request.Method + ":" + c.FullPath() + ":" + key
		hash := requestHash(body)
		log := log.WithField("idempotency_key", key)

		claimed, err := claimRequest(ctx, client, storeKey, hash)
		if err != nil {
			log.WithError(err).Warn("idempotency store unavailable, serving without replay")
			c.Next()
			return
		}

		if !claimed {
			stored, err := loadRequest(ctx, client, storeKey)
			if err != nil {
				log.WithError(err).Warn("failed to load stored response, serving without replay")
				c.Next()
				return
			}
			switch {
			case stored.RequestHash != hash:
				c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"error": "Idempotency-Key was used for a different request"})
			case stored.Pending:
				c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "a request with this Idempotency-Key is in progress"})
			default:
				c.Header(IdempotentReplayHeader, "true")
				c.Data(stored.Status, stored.ContentType, stored.Body)
				c.Abort()
			}
			return
		}

		rec := &bodyRecorder{ResponseWriter: c.Writer}
		c.Writer = rec

		c.Next()

		// The request context may already be gone once the handler has answered.
		saveCtx := context.WithoutCancel(ctx)
		status := rec.Status()
		if status >= http.StatusInternalServerError {
			if err := client.Del(saveCtx, storeKey).Err(); err != nil {
				log.WithError(err).Warn("failed to release Idempotency-Key")
			}
			return
		}

		err = saveRequest(saveCtx, client, storeKey, storedRequest{
			RequestHash: hash,
			Status:      status,
			ContentType: rec.Header().Get("Content-Type"),
			Body:        rec.body.Bytes(),
		})
		if err != nil {
			log.WithError(err).Warn("failed to store response")
		}
	}
}

func isWrite(method string) bool {
	return method == http.MethodPost || method == http.MethodPut || method == http.MethodPatch
}

func requestHash(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// claimRequest marks the key pending unless someone already holds it.
func claimRequest(ctx context.Context, client *redis.Client, key, hash string) (bool, error) {
	data, err := json.Marshal(storedRequest{RequestHash: hash, Pending: true})
	if err != nil {
		return false, err
	}
	return client.SetNX(ctx, key, data, requestLockTTL).Result()
}

func loadRequest(ctx context.Context, client *redis.Client, key string) (*storedRequest, error) {
	data, err := client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, err
	}
	var stored storedRequest
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, err
	}
	return &stored, nil
}

func saveRequest(ctx context.Context, client *redis.Client, key string, stored storedRequest) error {
	data, err := json.Marshal(stored)
	if err != nil {
		return err
	}
	return client.Set(ctx, key, data, requestKeyTTL).Err()
}
