package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"VoxFM/core/auth"
	"VoxFM/logger"
	"VoxFM/model"
)

// RegisterRequest represents the registration request body.
type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Email    string `json:"email"`
}

// RegisterHandler handles user registration requests.
func (h *APIHandler) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Error("[Register] 解析请求体失败", logger.ErrorField(err))
		respondError(w, http.StatusBadRequest, "BadRequest", "Invalid request body")
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)
	if req.Username == "" || req.Password == "" || req.Email == "" {
		respondError(w, http.StatusBadRequest, "BadRequest", "Username, password and email are required")
		return
	}

	// 用户名与邮箱都不允许重复
	if existing, err := h.userRepo.GetUserByUsername(req.Username); err != nil {
		logger.Error("[Register] 查询用户失败", logger.ErrorField(err))
		respondError(w, http.StatusInternalServerError, "Internal", "Internal server error")
		return
	} else if existing != nil {
		respondError(w, http.StatusConflict, "Conflict", "Username already taken")
		return
	}
	if existing, err := h.userRepo.GetUserByEmail(req.Email); err != nil {
		logger.Error("[Register] 查询邮箱失败", logger.ErrorField(err))
		respondError(w, http.StatusInternalServerError, "Internal", "Internal server error")
		return
	} else if existing != nil {
		respondError(w, http.StatusConflict, "Conflict", "Email already registered")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		logger.Error("[Register] 密码哈希失败", logger.ErrorField(err))
		respondError(w, http.StatusInternalServerError, "Internal", "Internal server error")
		return
	}

	user := &model.User{
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: hash,
	}
	userID, err := h.userRepo.CreateUser(user)
	if err != nil {
		logger.Error("[Register] 创建用户失败", logger.ErrorField(err))
		respondError(w, http.StatusInternalServerError, "Internal", "Internal server error")
		return
	}

	token, err := auth.GenerateToken(userID, user.Username)
	if err != nil {
		logger.Error("[Register] 生成Token失败", logger.ErrorField(err))
		respondError(w, http.StatusInternalServerError, "Internal", "Internal server error")
		return
	}

	logger.Info("[Register] 用户注册成功",
		logger.Int64("userId", userID),
		logger.String("username", user.Username))

	user.ID = userID
	respondJSON(w, http.StatusCreated, struct {
		Token string      `json:"token"`
		User  *model.User `json:"user"`
	}{Token: token, User: user})
}

// LoginHandler handles user login requests.
func (h *APIHandler) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"` // 可以是用户名或邮箱
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Error("[Login] 解析请求体失败", logger.ErrorField(err))
		respondError(w, http.StatusBadRequest, "BadRequest", "Invalid request body")
		return
	}

	if req.Username == "" || req.Password == "" {
		respondError(w, http.StatusBadRequest, "BadRequest", "Username/Email and password are required")
		return
	}

	// 查询用户 - 支持用户名或邮箱登录
	var user *model.User
	var err error
	if strings.Contains(req.Username, "@") {
		user, err = h.userRepo.GetUserByEmail(req.Username)
	} else {
		user, err = h.userRepo.GetUserByUsername(req.Username)
	}
	if err != nil {
		logger.Error("[Login] 查询用户失败", logger.ErrorField(err))
		respondError(w, http.StatusInternalServerError, "Internal", "Internal server error")
		return
	}
	if user == nil {
		logger.Warn("[Login] 用户不存在", logger.String("username", req.Username))
		respondError(w, http.StatusUnauthorized, "Unauthorized", "Invalid username/email or password")
		return
	}

	// 验证密码
	if !auth.VerifyPassword(req.Password, user.PasswordHash) {
		logger.Warn("[Login] 密码验证失败", logger.String("username", req.Username))
		respondError(w, http.StatusUnauthorized, "Unauthorized", "Invalid username/email or password")
		return
	}

	token, err := auth.GenerateToken(user.ID, user.Username)
	if err != nil {
		logger.Error("[Login] 生成Token失败", logger.ErrorField(err))
		respondError(w, http.StatusInternalServerError, "Internal", "Internal server error")
		return
	}

	logger.Info("[Login] 登录成功",
		logger.Int64("userId", user.ID),
		logger.String("username", user.Username))

	respondJSON(w, http.StatusOK, struct {
		Token string      `json:"token"`
		User  *model.User `json:"user"`
	}{Token: token, User: user})
}
