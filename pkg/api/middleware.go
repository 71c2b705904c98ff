package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/example/storefront/pkg/auth"
	"github.com/example/storefront/pkg/httpx"
	"github.com/gin-gonic/gin"
)

const (
	msgNotAuthenticated = "Authentication credentials were not provided."
	msgAuthFailed       = "Authentication failed."
	msgPermissionDenied = "Permission denied."
)

// TokenVerifier checks an Authorization header with the authority that
// issued the token. *userclient.Client satisfies it.
type TokenVerifier interface {
	Verify(ctx context.Context, authorization string) (*auth.Identity, error)
}

// remoteAuth verifies the caller through verifier when an Authorization
// header is present. Requests without one continue anonymously; a header that
// fails verification is rejected outright.
func remoteAuth(verifier TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.Next()
			return
		}

		id, err := verifier.Verify(c.Request.Context(), header)
		if err != nil {
			httpx.Error(c, http.StatusUnauthorized, msgAuthFailed)
			return
		}
		setIdentity(c, id)
		c.Next()
	}
}

func setIdentity(c *gin.Context, id *auth.Identity) {
	c.Request = c.Request.WithContext(auth.WithIdentity(c.Request.Context(), id))
}

func identity(c *gin.Context) *auth.Identity {
	return auth.FromContext(c.Request.Context())
}

func requireIdentity(c *gin.Context) {
	if identity(c) == nil {
		httpx.Error(c, http.StatusUnauthorized, msgNotAuthenticated)
		return
	}
	c.Next()
}

// requireAdmin answers 401 for anonymous callers and 403 for verified
// callers without the admin flag.
func requireAdmin(c *gin.Context) {
	id := identity(c)
	switch {
	case id == nil:
		httpx.Error(c, http.StatusUnauthorized, msgNotAuthenticated)
	case !id.IsAdmin:
		httpx.Error(c, http.StatusForbidden, msgPermissionDenied)
	default:
		c.Next()
	}
}

// pathID parses the :id parameter. Non-numeric ids answer 404 like any
// other unknown resource.
func pathID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		httpx.NotFound(c)
		return 0, false
	}
	return uint(id), true
}

func entityID(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}

func actorID(id *auth.Identity) uint {
	if id == nil {
		return 0
	}
	return id.UserID
}
