package auth

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/dhawalhost/scimprobe/internal/scim"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// Principal identifies the caller admitted by the bearer gate.
type Principal struct {
	// Subject is "shared-secret" for the static token, or the JWT subject.
	Subject  string
	ClientID string
	Scopes   []string
}

type principalContextKey struct{}

// WithPrincipal stores the authenticated principal on the context.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFromContext extracts the authenticated principal, if any.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(Principal)
	return p, ok
}

// Authenticator validates bearer credentials for both the SCIM surface and
// the admin API. A request passes with either the static shared secret or
// an HS256 JWT signed with the configured secret.
type Authenticator struct {
	sharedSecret string
	jwtSecret    []byte
	logger       *zap.Logger
}

// New creates a new authenticator.
func New(sharedSecret, jwtSecret string, logger *zap.Logger) *Authenticator {
	return &Authenticator{
		sharedSecret: sharedSecret,
		jwtSecret:    []byte(jwtSecret),
		logger:       logger,
	}
}

// Middleware is the gin bearer gate.
func (a *Authenticator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			a.unauthorized(c, "Authorization header with a Bearer token is required")
			return
		}
		p, err := a.validate(token)
		if err != nil {
			a.logger.Debug("token rejected", zap.Error(err))
			a.unauthorized(c, "invalid or expired token")
			return
		}
		c.Request = c.Request.WithContext(WithPrincipal(c.Request.Context(), p))
		c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func (a *Authenticator) validate(token string) (Principal, error) {
	if a.sharedSecret != "" &&
		subtle.ConstantTimeCompare([]byte(token), []byte(a.sharedSecret)) == 1 {
		return Principal{Subject: "shared-secret"}, nil
	}

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return a.jwtSecret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return Principal{}, err
	}

	p := Principal{}
	if sub, err := claims.GetSubject(); err == nil {
		p.Subject = sub
	}
	if cid, ok := claims["client_id"].(string); ok {
		p.ClientID = cid
	}
	if scope, ok := claims["scope"].(string); ok {
		p.Scopes = strings.Fields(scope)
	}
	return p, nil
}

func (a *Authenticator) unauthorized(c *gin.Context, detail string) {
	c.Header("WWW-Authenticate", `Bearer realm="SCIM"`)
	c.Header("Content-Type", scim.ContentType)
	c.AbortWithStatusJSON(http.StatusUnauthorized, scim.Envelope(scim.InvalidToken(detail)))
}
