package middleware

import (
	"context"
	"errors"
	"strings"

	fbauth "firebase.google.com/go/auth"
	"github.com/gin-gonic/gin"

	commonauth "github.com/civicdesk/civic-portal/backend/services/common/auth"
	apperrors "github.com/civicdesk/civic-portal/backend/services/common/errors"
	"github.com/civicdesk/civic-portal/backend/services/complaint-service/models"
)

const (
	PrincipalContextKey = "principal"
	// UserContextKey is read by the common request logger.
	UserContextKey      = "user_id"
)

var errNoVerifier = errors.New("no verifier accepted the token")

// TokenVerifier turns a bearer token into the caller's principal.
type TokenVerifier interface {
	Verify(ctx context.Context, raw string) (models.Principal, error)
}

// IDTokenVerifier is the part of the Firebase auth client we use.
type IDTokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*fbauth.Token, error)
}

// FirebaseVerifier accepts Firebase ID tokens. Role and department are read
// from custom claims; users without a role claim are citizens.
type FirebaseVerifier struct {
	client IDTokenVerifier
}

func NewFirebaseVerifier(client IDTokenVerifier) *FirebaseVerifier {
	return &FirebaseVerifier{client: client}
}

func (v *FirebaseVerifier) Verify(ctx context.Context, raw string) (models.Principal, error) {
	tok, err := v.client.VerifyIDToken(ctx, raw)
	if err != nil {
		return models.Principal{}, err
	}
	p := models.Principal{UserID: tok.UID, Role: models.RoleCitizen}
	if role, ok := tok.Claims["role"].(string); ok && commonauth.ValidRole(strings.ToLower(role)) {
		p.Role = strings.ToLower(role)
	}
	if dept, ok := tok.Claims["department"].(string); ok {
		p.Department = dept
	}
	return p, nil
}

// JWTVerifier accepts HS256 staff tokens.
type JWTVerifier struct {
	secret []byte
}

func NewJWTVerifier(secret []byte) *JWTVerifier {
	return &JWTVerifier{secret: secret}
}

func (v *JWTVerifier) Verify(_ context.Context, raw string) (models.Principal, error) {
	claims, err := commonauth.ParseAndValidateToken(raw, v.secret)
	if err != nil {
		return models.Principal{}, err
	}
	return models.Principal{UserID: claims.Subject, Role: claims.Role, Department: claims.Department}, nil
}

// AuthMiddleware requires a bearer token accepted by one of verifiers.
func AuthMiddleware(verifiers ...TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := bearerToken(c.GetHeader("Authorization"))
		if raw == "" {
			apperrors.Abort(c, apperrors.Unauthenticated("missing bearer token"))
			return
		}

		lastErr := errNoVerifier
		for _, v := range verifiers {
			p, err := v.Verify(c.Request.Context(), raw)
			if err != nil {
				lastErr = err
				continue
			}
			c.Set(PrincipalContextKey, p)
			c.Set(UserContextKey, p.UserID)
			c.Next()
			return
		}
		apperrors.Abort(c, apperrors.New(apperrors.KindUnauthenticated, "invalid or expired token", lastErr))
	}
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// RequireStaff lets admins and staff through.
func RequireStaff() gin.HandlerFunc {
	return func(c *gin.Context) {
		if p, ok := GetPrincipal(c); !ok || !p.IsStaff() {
			apperrors.Abort(c, apperrors.PermissionDenied("staff role required"))
			return
		}
		c.Next()
	}
}

func AdminOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		if p, ok := GetPrincipal(c); !ok || p.Role != models.RoleAdmin {
			apperrors.Abort(c, apperrors.PermissionDenied("admin role required"))
			return
		}
		c.Next()
	}
}

// Helper functions for controllers

func GetPrincipal(c *gin.Context) (models.Principal, bool) {
	if val, ok := c.Get(PrincipalContextKey); ok {
		if p, ok := val.(models.Principal); ok {
			return p, true
		}
	}
	return models.Principal{}, false
}
