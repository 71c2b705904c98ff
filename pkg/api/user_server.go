package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/example/storefront/pkg/audit"
	"github.com/example/storefront/pkg/auth"
	"github.com/example/storefront/pkg/httpx"
	"github.com/example/storefront/pkg/metrics"
	"github.com/example/storefront/pkg/models"
	"github.com/example/storefront/pkg/repository"
	"github.com/example/storefront/pkg/store"
	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
)

// UserCache keeps public user profiles close to the service.
// *repository.RedisRepository satisfies it.
type UserCache interface {
	CacheUser(ctx context.Context, user *models.User) error
	GetUserCache(ctx context.Context, id uint) (*models.User, error)
	InvalidateUser(ctx context.Context, id uint) error
}

type UserServer struct {
	users   *store.UserStore
	tokens  *auth.Issuer
	cache   UserCache
	audit   audit.Recorder
	logger  *zap.Logger
	metrics *metrics.Metrics
	router  *gin.Engine
}

// NewUserServer wires the user service's HTTP API. cache, rec and m may be nil.
func NewUserServer(users *store.UserStore, tokens *auth.Issuer, cache UserCache, rec audit.Recorder, logger *zap.Logger, m *metrics.Metrics) *UserServer {
	if rec == nil {
		rec = audit.Nop{}
	}
	s := &UserServer{
		users:   users,
		tokens:  tokens,
		cache:   cache,
		audit:   rec,
		logger:  logger,
		metrics: m,
		router:  httpx.NewRouter(logger, m),
	}
	s.setupRoutes()
	return s
}

func (s *UserServer) Handler() http.Handler {
	return s.router
}

func (s *UserServer) setupRoutes() {
	s.router.GET("/health/", httpx.Health)
	if s.metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	authGroup := s.router.Group("/auth")
	{
		authGroup.POST("/register/", s.register)
		authGroup.POST("/login/", s.login)
		authGroup.POST("/refresh/", s.refresh)
		authGroup.GET("/verify/", s.authenticate, s.verify)
	}

	users := s.router.Group("/users", s.authenticate)
	{
		users.GET("/profile/", s.getProfile)
		users.PUT("/profile/", s.updateProfile)
		users.GET("/", requireAdmin, s.listUsers)
		users.GET("/:id/", s.getUser)
		users.PUT("/:id/", requireAdmin, s.updateUser)
		users.DELETE("/:id/", requireAdmin, s.deleteUser)
	}
}

// authenticate validates a locally issued access token and reloads the user,
// so deleted accounts and revoked admin rights take effect immediately.
func (s *UserServer) authenticate(c *gin.Context) {
	token, err := auth.BearerToken(c.GetHeader("Authorization"))
	if err != nil {
		httpx.Error(c, http.StatusUnauthorized, msgNotAuthenticated)
		return
	}
	claims, err := s.tokens.Parse(token, auth.AccessToken)
	if err != nil {
		httpx.Error(c, http.StatusUnauthorized, "Given token not valid for any token type.")
		return
	}

	user, err := s.users.Get(c.Request.Context(), claims.UserID)
	if errors.Is(err, store.ErrNotFound) {
		httpx.Error(c, http.StatusUnauthorized, "User not found.")
		return
	}
	if err != nil {
		httpx.InternalError(c, s.logger, err)
		return
	}

	setIdentity(c, &auth.Identity{UserID: user.ID, Username: user.Username, IsAdmin: user.IsAdmin()})
	c.Set(currentUserKey, user)
	c.Next()
}

const currentUserKey = "current_user"

func currentUser(c *gin.Context) *models.User {
	user, _ := c.MustGet(currentUserKey).(*models.User)
	return user
}

type registerRequest struct {
	Username        string  `json:"username" binding:"required,max=20"`
	FullName        string  `json:"fullname" binding:"required,max=30"`
	Email           string  `json:"email" binding:"required,email,max=254"`
	Password        string  `json:"password" binding:"required,min=8,max=72"`
	PasswordConfirm string  `json:"password_confirm" binding:"required"`
	Address         *string `json:"address"`
	City            *string `json:"city" binding:"omitempty,max=50"`
	Tel             *string `json:"tel" binding:"omitempty,max=20"`
}

type authResponse struct {
	User    *models.User `json:"user"`
	Refresh string       `json:"refresh"`
	Access  string       `json:"access"`
}

func (s *UserServer) register(c *gin.Context) {
	var req registerRequest
	if !httpx.Bind(c, &req) {
		return
	}
	if req.Password != req.PasswordConfirm {
		httpx.FieldError(c, "password_confirm", "Passwords do not match.")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		httpx.InternalError(c, s.logger, err)
		return
	}

	user := &models.User{
		Username: req.Username,
		FullName: req.FullName,
		Email:    strings.ToLower(req.Email),
		Password: hash,
		Address:  req.Address,
		City:     req.City,
		Tel:      req.Tel,
	}
	if err := s.users.Create(c.Request.Context(), user); err != nil {
		s.storeError(c, err)
		return
	}

	s.audit.Record(&repository.AuditLog{
		Action:   "register_user",
		EntityID: entityID(user.ID),
		ActorID:  user.ID,
		Data:     bson.M{"username": user.Username, "email": user.Email},
	})
	s.logger.Info("User registered", zap.Uint("user_id", user.ID))

	s.respondWithTokens(c, http.StatusCreated, user)
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

func (s *UserServer) login(c *gin.Context) {
	var req loginRequest
	if !httpx.Bind(c, &req) {
		return
	}

	user, err := s.users.GetByEmail(c.Request.Context(), strings.ToLower(req.Email))
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		httpx.InternalError(c, s.logger, err)
		return
	}
	if user == nil || !auth.CheckPassword(req.Password, user.Password) {
		httpx.Error(c, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	s.respondWithTokens(c, http.StatusOK, user)
}

func (s *UserServer) respondWithTokens(c *gin.Context, status int, user *models.User) {
	pair, err := s.tokens.IssuePair(auth.Identity{UserID: user.ID, Username: user.Username, IsAdmin: user.IsAdmin()})
	if err != nil {
		httpx.InternalError(c, s.logger, err)
		return
	}
	c.JSON(status, authResponse{User: user, Refresh: pair.Refresh, Access: pair.Access})
}

type refreshRequest struct {
	Refresh string `json:"refresh" binding:"required"`
}

func (s *UserServer) refresh(c *gin.Context) {
	var req refreshRequest
	if !httpx.Bind(c, &req) {
		return
	}

	claims, err := s.tokens.Parse(req.Refresh, auth.RefreshToken)
	if err != nil {
		httpx.Error(c, http.StatusUnauthorized, "Token is invalid or expired")
		return
	}
	user, err := s.users.Get(c.Request.Context(), claims.UserID)
	if errors.Is(err, store.ErrNotFound) {
		httpx.Error(c, http.StatusUnauthorized, "User not found.")
		return
	}
	if err != nil {
		httpx.InternalError(c, s.logger, err)
		return
	}

	access, err := s.tokens.IssueAccess(auth.Identity{UserID: user.ID, Username: user.Username, IsAdmin: user.IsAdmin()})
	if err != nil {
		httpx.InternalError(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"access": access})
}

// verify is the endpoint other services call to authenticate their callers.
// Its answer is never cached.
func (s *UserServer) verify(c *gin.Context) {
	c.JSON(http.StatusOK, identity(c))
}

func (s *UserServer) getProfile(c *gin.Context) {
	c.JSON(http.StatusOK, currentUser(c))
}

// userUpdate is a partial update: absent fields are left unchanged.
type userUpdate struct {
	Username *string `json:"username" binding:"omitempty,min=1,max=20"`
	FullName *string `json:"fullname" binding:"omitempty,min=1,max=30"`
	Email    *string `json:"email" binding:"omitempty,email,max=254"`
	Address  *string `json:"address"`
	City     *string `json:"city" binding:"omitempty,max=50"`
	Tel      *string `json:"tel" binding:"omitempty,max=20"`
	IsStaff  *bool   `json:"is_staff"`
}

func (u *userUpdate) columns(allowRoles bool) map[string]any {
	updates := map[string]any{}
	if u.Username != nil {
		updates["username"] = *u.Username
	}
	if u.FullName != nil {
		updates["full_name"] = *u.FullName
	}
	if u.Email != nil {
		updates["email"] = strings.ToLower(*u.Email)
	}
	if u.Address != nil {
		updates["address"] = *u.Address
	}
	if u.City != nil {
		updates["city"] = *u.City
	}
	if u.Tel != nil {
		updates["tel"] = *u.Tel
	}
	if allowRoles && u.IsStaff != nil {
		updates["is_staff"] = *u.IsStaff
	}
	return updates
}

func (s *UserServer) updateProfile(c *gin.Context) {
	var req userUpdate
	if !httpx.Bind(c, &req) {
		return
	}
	s.applyUpdate(c, currentUser(c).ID, req.columns(false))
}

func (s *UserServer) listUsers(c *gin.Context) {
	users, err := s.users.List(c.Request.Context())
	if err != nil {
		httpx.InternalError(c, s.logger, err)
		return
	}
	if users == nil {
		users = []models.User{}
	}
	c.JSON(http.StatusOK, users)
}

// getUser is open to admins and to the user themself. Profiles are served
// from the cache when one is configured.
func (s *UserServer) getUser(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	caller := identity(c)
	if !caller.IsAdmin && caller.UserID != id {
		httpx.Error(c, http.StatusForbidden, msgPermissionDenied)
		return
	}

	ctx := c.Request.Context()
	if s.cache != nil {
		if user, err := s.cache.GetUserCache(ctx, id); err == nil {
			c.JSON(http.StatusOK, user)
			return
		} else if !errors.Is(err, repository.ErrCacheMiss) {
			s.logger.Warn("Failed to read user cache", zap.Uint("user_id", id), zap.Error(err))
		}
	}

	user, err := s.users.Get(ctx, id)
	if err != nil {
		s.storeError(c, err)
		return
	}
	if s.cache != nil {
		if err := s.cache.CacheUser(ctx, user); err != nil {
			s.logger.Warn("Failed to cache user", zap.Uint("user_id", id), zap.Error(err))
		}
	}
	c.JSON(http.StatusOK, user)
}

func (s *UserServer) updateUser(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req userUpdate
	if !httpx.Bind(c, &req) {
		return
	}
	s.applyUpdate(c, id, req.columns(true))
}

func (s *UserServer) applyUpdate(c *gin.Context, id uint, updates map[string]any) {
	user, err := s.users.Update(c.Request.Context(), id, updates)
	if err != nil {
		s.storeError(c, err)
		return
	}
	s.invalidate(c.Request.Context(), id)

	fields := make([]string, 0, len(updates))
	for k := range updates {
		fields = append(fields, k)
	}
	s.audit.Record(&repository.AuditLog{
		Action:   "update_user",
		EntityID: entityID(id),
		ActorID:  actorID(identity(c)),
		Data:     bson.M{"fields": fields},
	})
	c.JSON(http.StatusOK, user)
}

func (s *UserServer) deleteUser(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := s.users.Delete(c.Request.Context(), id); err != nil {
		s.storeError(c, err)
		return
	}
	s.invalidate(c.Request.Context(), id)

	s.audit.Record(&repository.AuditLog{
		Action:   "delete_user",
		EntityID: entityID(id),
		ActorID:  actorID(identity(c)),
	})
	s.logger.Info("User deleted", zap.Uint("user_id", id))
	c.Status(http.StatusNoContent)
}

func (s *UserServer) invalidate(ctx context.Context, id uint) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateUser(ctx, id); err != nil {
		s.logger.Warn("Failed to invalidate user cache", zap.Uint("user_id", id), zap.Error(err))
	}
}

func (s *UserServer) storeError(c *gin.Context, err error) {
	var dup *store.DuplicateError
	switch {
	case errors.As(err, &dup):
		httpx.FieldError(c, dup.Field, "A user with that "+dup.Field+" already exists.")
	case errors.Is(err, store.ErrNotFound):
		httpx.Error(c, http.StatusNotFound, "User not found")
	default:
		httpx.InternalError(c, s.logger, err)
	}
}
