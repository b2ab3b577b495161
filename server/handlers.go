package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"VoxFM/config"
	"VoxFM/core/auth"
	"VoxFM/core/ingest"
	"VoxFM/core/integrity"
	"VoxFM/core/transcribe"
	"VoxFM/core/upload"
	"VoxFM/logger"
	"VoxFM/repository"
	"VoxFM/storage"
)

// APIHandler 处理所有API请求
type APIHandler struct {
	trackRepo  repository.TrackRepository
	userRepo   repository.UserRepository
	store      storage.Facade
	ingestor   *ingest.Ingestor
	uploads    *upload.Manager
	pipeline   *transcribe.Pipeline
	reconciler *integrity.Reconciler
	cfg        *config.Config
}

// NewAPIHandler 创建新的API处理器
func NewAPIHandler(
	trackRepo repository.TrackRepository,
	userRepo repository.UserRepository,
	store storage.Facade,
	ingestor *ingest.Ingestor,
	uploads *upload.Manager,
	pipeline *transcribe.Pipeline,
	reconciler *integrity.Reconciler,
	cfg *config.Config,
) *APIHandler {
	return &APIHandler{
		trackRepo:  trackRepo,
		userRepo:   userRepo,
		store:      store,
		ingestor:   ingestor,
		uploads:    uploads,
		pipeline:   pipeline,
		reconciler: reconciler,
		cfg:        cfg,
	}
}

// respondJSON writes a JSON response with the given status.
func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			logger.Error("写入响应失败", logger.ErrorField(err))
		}
	}
}

// respondError writes a structured error body with a stable code string.
func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, map[string]string{"error": code, "message": message})
}

// respondStorageError maps facade sentinel errors onto stable HTTP codes
// without leaking backend detail to the client.
func respondStorageError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrStorageUnavailable):
		respondError(w, http.StatusServiceUnavailable, "StorageUnavailable", "Cloud storage is not configured")
	case errors.Is(err, storage.ErrPayloadTooLarge):
		respondError(w, http.StatusRequestEntityTooLarge, "PayloadTooLarge", "Audio payload exceeds the configured limit")
	case errors.Is(err, storage.ErrObjectUnreadable):
		respondError(w, http.StatusNotFound, "ObjectUnreadable", "Audio object is missing or unreadable")
	default:
		logger.Error("存储操作失败", logger.ErrorField(err))
		respondError(w, http.StatusInternalServerError, "Internal", "Internal server error")
	}
}

// AuthMiddleware is a middleware function that checks for a valid JWT token.
// 流媒体路由里 <audio> 标签带不了 Authorization 头，放行 ?token= 查询参数。
func (h *APIHandler) AuthMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tokenString := ""

		authHeader := r.Header.Get("Authorization")
		if authHeader != "" {
			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				respondError(w, http.StatusUnauthorized, "Unauthorized", "Invalid authorization header format")
				return
			}
			tokenString = parts[1]
		} else {
			tokenString = r.URL.Query().Get("token")
		}

		if tokenString == "" {
			respondError(w, http.StatusUnauthorized, "Unauthorized", "Authorization credential is required")
			return
		}

		claims, err := auth.ParseToken(tokenString)
		if err != nil {
			respondError(w, http.StatusUnauthorized, "Unauthorized", "Invalid token")
			return
		}

		// Add user info to the request context
		ctx := context.WithValue(r.Context(), userIDContextKey, claims.UserID)
		ctx = context.WithValue(ctx, usernameContextKey, claims.Username)
		next.ServeHTTP(w, r.WithContext(ctx))
	}
}

type contextKey string

const (
	userIDContextKey   contextKey = "userID"
	usernameContextKey contextKey = "username"
)

// GetUserIDFromContext extracts the user ID from the request context.
func GetUserIDFromContext(ctx context.Context) (int64, error) {
	userID, ok := ctx.Value(userIDContextKey).(int64)
	if !ok {
		return 0, fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// GetUsernameFromContext extracts the username from the request context.
func GetUsernameFromContext(ctx context.Context) (string, error) {
	username, ok := ctx.Value(usernameContextKey).(string)
	if !ok {
		return "", fmt.Errorf("username not found in context")
	}
	return username, nil
}

// requireUser resolves the authenticated user ID or writes 401.
func requireUser(w http.ResponseWriter, r *http.Request) (int64, bool) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		respondError(w, http.StatusUnauthorized, "Unauthorized", "Unauthorized")
		return 0, false
	}
	return userID, true
}
