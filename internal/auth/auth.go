package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"insightxr/internal/asset"
)

const contextKey = "auth"

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
)

type claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Verifier validates HS256 access tokens issued by the external auth service.
type Verifier struct {
	secret []byte
	parser *jwt.Parser
}

func NewVerifier(secret string) (*Verifier, error) {
	if secret == "" {
		return nil, errors.New("empty jwt secret")
	}
	return &Verifier{
		secret: []byte(secret),
		parser: jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired()),
	}, nil
}

// Verify parses token and returns the caller it identifies.
func (v *Verifier) Verify(token string) (asset.AuthContext, error) {
	var c claims
	_, err := v.parser.ParseWithClaims(token, &c, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return asset.AuthContext{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if c.Subject == "" {
		return asset.AuthContext{}, fmt.Errorf("%w: no subject", ErrInvalidToken)
	}
	return asset.AuthContext{UserID: c.Subject, Email: c.Email}, nil
}

// RequireBearer rejects requests without a valid bearer token and stores the
// resolved AuthContext on the gin context.
func RequireBearer(v *Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		token = strings.TrimSpace(token)
		if !ok || token == "" {
			unauthorized(c, ErrMissingToken)
			return
		}
		ac, err := v.Verify(token)
		if err != nil {
			unauthorized(c, ErrInvalidToken)
			return
		}
		c.Set(contextKey, ac)
		c.Set("user_id", ac.UserID)
		c.Next()
	}
}

// FromGin returns the AuthContext set by RequireBearer, or the zero value.
func FromGin(c *gin.Context) asset.AuthContext {
	v, ok := c.Get(contextKey)
	if !ok {
		return asset.AuthContext{}
	}
	ac, _ := v.(asset.AuthContext)
	return ac
}

func unauthorized(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
}
