package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"safevault/crypto"
	"safevault/observability/logging"
)

// Scopes understood by the vault service.
const (
	ScopeAdmin = "vault:admin"
	ScopeUser  = "vault:user"
)

const defaultScopeClaim = "scope"

type AuthConfig struct {
	HMACSecret  string
	Issuer      string
	Audience    string
	ScopeClaim  string
	ClockSkew   time.Duration
	// MaxTokenTTL bounds exp - iat of accepted tokens. Zero disables the check.
	MaxTokenTTL time.Duration
}

// Caller is the authenticated identity attached to a request.
type Caller struct {
	Subject string
	// Owner is the subject decoded as an account address. It is zero when the
	// subject is not an account address.
	Owner  crypto.Address
	Scopes []string
}

type contextKey string

const callerKey contextKey = "vaultd.caller"

// CallerFromContext returns the caller stored by Authenticator.Middleware.
func CallerFromContext(ctx context.Context) (Caller, bool) {
	caller, ok := ctx.Value(callerKey).(Caller)
	return caller, ok
}

// WithCaller attaches caller to ctx.
func WithCaller(ctx context.Context, caller Caller) context.Context {
	return context.WithValue(ctx, callerKey, caller)
}

type Authenticator struct {
	cfg    AuthConfig
	logger *slog.Logger
	secret []byte
	now    func() time.Time
}

func NewAuthenticator(cfg AuthConfig, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ScopeClaim == "" {
		cfg.ScopeClaim = defaultScopeClaim
	}
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = 2 * time.Minute
	}
	return &Authenticator{
		cfg:    cfg,
		logger: logger,
		secret: []byte(strings.TrimSpace(cfg.HMACSecret)),
		now:    time.Now,
	}
}

// SetNowFunc overrides the clock used for expiry checks.
func (a *Authenticator) SetNowFunc(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	a.now = now
}

// Errors returned by Authenticate.
var (
	ErrUnauthenticated = errors.New("invalid token")
	ErrForbidden       = errors.New("insufficient scope")
)

// Authenticate verifies a raw bearer token and checks it carries every
// required scope. Failures wrap ErrUnauthenticated or ErrForbidden.
func (a *Authenticator) Authenticate(tokenString string, requiredScopes ...string) (Caller, error) {
	if tokenString == "" {
		return Caller{}, fmt.Errorf("%w: missing bearer token", ErrUnauthenticated)
	}
	claims, err := a.parseToken(tokenString)
	if err == nil {
		err = validateClaims(claims, a.cfg.Issuer, a.cfg.Audience)
	}
	if err == nil {
		err = a.checkLifetime(claims)
	}
	if err != nil {
		return Caller{}, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}
	scopes := extractScopes(claims, a.cfg.ScopeClaim)
	if !hasScopes(scopes, requiredScopes) {
		return Caller{}, ErrForbidden
	}
	caller := Caller{Scopes: scopes}
	caller.Subject, _ = claims.GetSubject()
	if owner, err := crypto.ParseAddress(crypto.AccountPrefix, caller.Subject); err == nil {
		caller.Owner = owner
	}
	return caller, nil
}

// Middleware rejects requests without a valid bearer token carrying every
// required scope.
func (a *Authenticator) Middleware(requiredScopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString := extractBearer(r.Header.Get("Authorization"))
			if tokenString == "" {
				WriteError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "missing bearer token")
				return
			}
			caller, err := a.Authenticate(tokenString, requiredScopes...)
			if errors.Is(err, ErrForbidden) {
				WriteError(w, http.StatusForbidden, "FORBIDDEN", "insufficient scope")
				return
			}
			if err != nil {
				a.logger.Warn("auth: token rejected",
					slog.String("route", r.URL.Path),
					slog.String("token", logging.MaskToken(tokenString)),
					slog.String("error", err.Error()))
				WriteError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "invalid token")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
		})
	}
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	return extractBearer(header)
}

func (a *Authenticator) parseToken(tokenString string) (jwt.MapClaims, error) {
	if len(a.secret) == 0 {
		return nil, errors.New("auth secret not configured")
	}
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	},
		jwt.WithLeeway(a.cfg.ClockSkew),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("token invalid")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("claims not map")
	}
	return claims, nil
}

func (a *Authenticator) checkLifetime(claims jwt.MapClaims) error {
	if a.cfg.MaxTokenTTL <= 0 {
		return nil
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return errors.New("expiry missing")
	}
	start := a.now()
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		start = iat.Time
	}
	if exp.Time.Sub(start) > a.cfg.MaxTokenTTL+a.cfg.ClockSkew {
		return fmt.Errorf("token lifetime exceeds %s", a.cfg.MaxTokenTTL)
	}
	return nil
}

func validateClaims(claims jwt.MapClaims, issuer, audience string) error {
	if issuer != "" {
		if value, ok := claims["iss"].(string); !ok || value != issuer {
			return errors.New("issuer mismatch")
		}
	}
	if audience != "" {
		switch val := claims["aud"].(type) {
		case string:
			if val != audience {
				return errors.New("audience mismatch")
			}
		case []interface{}:
			matched := false
			for _, entry := range val {
				if s, ok := entry.(string); ok && s == audience {
					matched = true
					break
				}
			}
			if !matched {
				return errors.New("audience mismatch")
			}
		default:
			return errors.New("audience missing")
		}
	}
	return nil
}

func extractScopes(claims jwt.MapClaims, scopeClaim string) []string {
	raw, ok := claims[scopeClaim]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case string:
		return strings.Fields(v)
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, entry := range v {
			if s, ok := entry.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func hasScopes(scopes []string, required []string) bool {
	if len(required) == 0 {
		return true
	}
	set := make(map[string]struct{}, len(scopes))
	for _, scope := range scopes {
		set[scope] = struct{}{}
	}
	for _, req := range required {
		if _, ok := set[req]; !ok {
			return false
		}
	}
	return true
}

func extractBearer(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// TokenRequest describes a bearer token to mint.
type TokenRequest struct {
	Secret   string
	Issuer   string
	Audience string
	Subject  string
	Scopes   []string
	TTL      time.Duration
	Now      time.Time
}

// IssueToken signs an HS256 token accepted by Authenticator.
func IssueToken(req TokenRequest) (string, error) {
	secret := strings.TrimSpace(req.Secret)
	if secret == "" {
		return "", errors.New("auth secret required")
	}
	if strings.TrimSpace(req.Subject) == "" {
		return "", errors.New("token subject required")
	}
	if req.TTL <= 0 {
		return "", fmt.Errorf("token ttl must be positive")
	}
	now := req.Now
	if now.IsZero() {
		now = time.Now()
	}
	claims := jwt.MapClaims{
		"sub":   req.Subject,
		"iat":   now.Unix(),
		"exp":   now.Add(req.TTL).Unix(),
		"scope": strings.Join(req.Scopes, " "),
	}
	if req.Issuer != "" {
		claims["iss"] = req.Issuer
	}
	if req.Audience != "" {
		claims["aud"] = req.Audience
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
