package webdav

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/marmos91/dittodrive/pkg/drive"
)

const tokenIssuer = "dittodrive-webdav"

// ErrUnauthenticated is returned when a request carries no valid token.
var ErrUnauthenticated = errors.New("webdav: missing or invalid credentials")

// Claims identify a WebDAV user. The subject is the user id.
type Claims struct {
	jwt.RegisteredClaims
	CompanyID string   `json:"company_id"`
	Channels  []string `json:"channels,omitempty"`
}

// Authenticator turns bearer tokens into execution contexts.
//
// Tokens are accepted in an "Authorization: Bearer" header, or as the
// password of HTTP basic auth for clients that only support that.
type Authenticator struct {
	secret []byte
	now    func() time.Time
}

// NewAuthenticator creates an Authenticator for HS256 tokens signed with secret.
func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret), now: time.Now}
}

// IssueToken signs a token for user in company, valid for ttl.
func (a *Authenticator) IssueToken(companyID, userID string, channels []string, ttl time.Duration) (string, error) {
	if companyID == "" || userID == "" {
		return "", fmt.Errorf("company and user are required")
	}
	now := a.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		CompanyID: companyID,
		Channels:  channels,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Authenticate extracts and verifies the request's token.
func (a *Authenticator) Authenticate(r *http.Request) (drive.ExecutionContext, error) {
	raw := bearerToken(r)
	if raw == "" {
		return drive.ExecutionContext{}, ErrUnauthenticated
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return drive.ExecutionContext{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if claims.CompanyID == "" || claims.Subject == "" {
		return drive.ExecutionContext{}, fmt.Errorf("%w: token has no company or user", ErrUnauthenticated)
	}

	return drive.ExecutionContext{
		CompanyID: claims.CompanyID,
		UserID:    claims.Subject,
		Channels:  claims.Channels,
	}, nil
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	if _, password, ok := r.BasicAuth(); ok {
		return password
	}
	return ""
}

type contextKey struct{}

// WithExecutionContext attaches ec to ctx.
func WithExecutionContext(ctx context.Context, ec drive.ExecutionContext) context.Context {
	return context.WithValue(ctx, contextKey{}, ec)
}

// ExecutionContextFrom returns the execution context attached by the
// authentication middleware.
func ExecutionContextFrom(ctx context.Context) (drive.ExecutionContext, bool) {
	ec, ok := ctx.Value(contextKey{}).(drive.ExecutionContext)
	return ec, ok
}
