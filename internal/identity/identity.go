// Package identity verifies bearer tokens issued by the identity provider and
// turns them into principals.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	"github.com/dharsanguruparan/ScanVault/internal/model"
)

// Authenticator verifies a bearer token.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (model.Principal, error)
}

type claims struct {
	jwt.RegisteredClaims
	Email             string `json:"email"`
	Name              string `json:"name,omitempty"`
	PreferredUsername string `json:"preferred_username,omitempty"`
}

// JWTAuthenticator validates signed JWTs.
type JWTAuthenticator struct {
	keyfunc func(ctx context.Context) jwt.Keyfunc
	methods []string
	issuer  string
	leeway  time.Duration
}

// NewHS256 validates tokens signed with a shared secret. Intended for
// development and tests.
func NewHS256(secret []byte, issuer string) *JWTAuthenticator {
	return &JWTAuthenticator{
		keyfunc: func(context.Context) jwt.Keyfunc {
			return func(*jwt.Token) (any, error) { return secret, nil }
		},
		methods: []string{jwt.SigningMethodHS256.Alg()},
		issuer:  issuer,
		leeway:  30 * time.Second,
	}
}

// NewJWKS validates RS256 tokens against keys fetched (and refreshed in the
// background) from the provider's JWKS endpoint. Startup does not fail when
// the endpoint is briefly unreachable.
func NewJWKS(jwksURL, issuer string, logger *slog.Logger) (*JWTAuthenticator, error) {
	storage, err := jwkset.NewStorageFromHTTP(jwksURL, jwkset.HTTPClientStorageOptions{
		NoErrorReturnFirstHTTPReq: true,
		RefreshInterval:           time.Hour,
		RefreshErrorHandler: func(_ context.Context, err error) {
			logger.Error("jwks refresh failed",
				slog.String("error", err.Error()),
				slog.String("url", jwksURL),
			)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create jwks storage: %w", err)
	}
	k, err := keyfunc.New(keyfunc.Options{Storage: storage})
	if err != nil {
		return nil, fmt.Errorf("create keyfunc: %w", err)
	}
	return NewWithKeyfunc(k, issuer), nil
}

// NewWithKeyfunc builds an RS256 authenticator around an existing key set.
func NewWithKeyfunc(k keyfunc.Keyfunc, issuer string) *JWTAuthenticator {
	return &JWTAuthenticator{
		keyfunc: func(ctx context.Context) jwt.Keyfunc {
			lookup := k.KeyfuncCtx(ctx)
			return func(token *jwt.Token) (any, error) {
				key, err := lookup(token)
				if err != nil && keySetEmpty(ctx, k.Storage(), err) {
					return nil, fmt.Errorf("%w: %w", errKeySetUnavailable, err)
				}
				return key, err
			}
		},
		methods: []string{"RS256"},
		issuer:  issuer,
		leeway:  30 * time.Second,
	}
}

// errKeySetUnavailable marks lookups that failed because no verification keys
// have been loaded, as opposed to a token naming a key the provider never
// published.
var errKeySetUnavailable = errors.New("verification keys unavailable")

func keySetEmpty(ctx context.Context, storage jwkset.Storage, lookupErr error) bool {
	if !errors.Is(lookupErr, jwkset.ErrKeyNotFound) {
		return false
	}
	keys, err := storage.KeyReadAll(ctx)
	return err != nil || len(keys) == 0
}

// Authenticate parses and validates the token. A token that cannot be checked
// because the provider's keys never loaded is model.ErrIdentityUnavailable;
// any other failure is model.ErrUnauthenticated. The cause is kept in the
// chain.
func (a *JWTAuthenticator) Authenticate(ctx context.Context, token string) (model.Principal, error) {
	if token == "" {
		return model.Principal{}, fmt.Errorf("empty bearer token: %w", model.ErrUnauthenticated)
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods(a.methods),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(a.leeway),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	c := &claims{}
	if _, err := jwt.ParseWithClaims(token, c, a.keyfunc(ctx), opts...); err != nil {
		if errors.Is(err, errKeySetUnavailable) {
			return model.Principal{}, fmt.Errorf("verify token: %w: %w", model.ErrIdentityUnavailable, err)
		}
		return model.Principal{}, fmt.Errorf("verify token: %w: %w", model.ErrUnauthenticated, err)
	}
	name := c.Name
	if name == "" {
		name = c.PreferredUsername
	}
	return model.Principal{ID: c.Subject, Email: c.Email, Name: name}, nil
}

// IssueHS256 mints a token accepted by NewHS256 with the same secret.
func IssueHS256(secret []byte, issuer string, p model.Principal, ttl time.Duration) (string, error) {
	now := time.Now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Email: p.Email,
		Name:  p.Name,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// BearerToken extracts the token from an Authorization header.
func BearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", fmt.Errorf("missing Authorization header: %w", model.ErrUnauthenticated)
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", fmt.Errorf("expected Authorization: Bearer <token>: %w", model.ErrUnauthenticated)
	}
	return strings.TrimSpace(token), nil
}

type contextKey struct{}

// WithPrincipal stores the authenticated principal on the context.
func WithPrincipal(ctx context.Context, p model.Principal) context.Context {
	return context.WithValue(ctx, contextKey{}, p)
}

// PrincipalFrom returns the principal stored by WithPrincipal.
func PrincipalFrom(ctx context.Context) (model.Principal, bool) {
	p, ok := ctx.Value(contextKey{}).(model.Principal)
	return p, ok
}
