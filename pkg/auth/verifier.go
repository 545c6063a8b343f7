package auth

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/StricklySoft/stricklysoft-trust/pkg/errors"
)

// maxTokenSize rejects tokens above 8 KiB before any parsing.
const maxTokenSize = 8192

// DefaultLeeway is the clock skew tolerated on exp, nbf and iat.
const DefaultLeeway = 60 * time.Second

// DefaultRoleClaim is where Keycloak places realm roles.
const DefaultRoleClaim = "realm_access.roles"

// allowedAlgorithms is the asymmetric allow-list. HMAC and "none" are
// never accepted.
var allowedAlgorithms = []string{
	jwt.SigningMethodRS256.Alg(),
	jwt.SigningMethodRS384.Alg(),
	jwt.SigningMethodRS512.Alg(),
}

// KeySource resolves verification keys. [KeySetCache] implements it.
type KeySource interface {
	Resolve(kid string) (KeyEntry, bool)
	Refresh(ctx context.Context) error
}

// Verifier verifies bearer tokens. [TokenVerifier] implements it; the HTTP
// middleware and gRPC interceptors depend only on this interface.
type Verifier interface {
	Verify(ctx context.Context, token string, now time.Time) (*VerifiedClaims, error)
}

// VerifierConfig configures a [TokenVerifier].
type VerifierConfig struct {
	// Issuer is the expected iss claim. Empty disables the issuer check.
	Issuer string

	// Audiences are the accepted client ids. A token passes when its aud
	// intersects this set or its azp is in it. Empty disables the check.
	Audiences []string

	// Leeway is applied to exp, nbf and iat. Must not be negative.
	Leeway time.Duration

	// RoleClaims are dotted claim paths searched for roles. Defaults to
	// [DefaultRoleClaim].
	RoleClaims []string

	Logger *slog.Logger
}

// DefaultVerifierConfig returns a configuration with the default leeway
// and role claim and no issuer or audience restriction.
func DefaultVerifierConfig() VerifierConfig {
	return VerifierConfig{
		Leeway:     DefaultLeeway,
		RoleClaims: []string{DefaultRoleClaim},
	}
}

// TokenVerifier turns a bearer token into [VerifiedClaims] or a typed
// AUTH_xxx error. It holds no per-request state and is safe for concurrent
// use.
type TokenVerifier struct {
	keys      KeySource
	issuer    string
	audiences []string
	leeway    time.Duration
	rolePaths []string
	logger    *slog.Logger
	tracer    trace.Tracer
}

var _ Verifier = (*TokenVerifier)(nil)

// NewTokenVerifier returns a verifier reading keys from keys.
func NewTokenVerifier(keys KeySource, cfg VerifierConfig) (*TokenVerifier, error) {
	if keys == nil {
		return nil, sserr.New(sserr.CodeValidationRequired, "auth: key source must not be nil")
	}
	if cfg.Leeway < 0 {
		return nil, sserr.New(sserr.CodeValidation, "auth: leeway must not be negative")
	}

	v := &TokenVerifier{
		keys:      keys,
		issuer:    cfg.Issuer,
		audiences: dedupe(cfg.Audiences),
		leeway:    cfg.Leeway,
		rolePaths: slices.Clone(cfg.RoleClaims),
		logger:    cfg.Logger,
		tracer:    otel.Tracer(tracerName),
	}
	if len(v.rolePaths) == 0 {
		v.rolePaths = []string{DefaultRoleClaim}
	}
	if v.logger == nil {
		v.logger = slog.Default()
	}
	return v, nil
}

// Verify checks, in order: token shape and algorithm, key id (refreshing
// the key set once on a miss), signature, exp/nbf/iat with leeway, issuer,
// audience, and finally exp against now once more.
func (v *TokenVerifier) Verify(ctx context.Context, token string, now time.Time) (*VerifiedClaims, error) {
	ctx, span := startSpan(ctx, v.tracer, "auth.Verify")
	defer span.End()

	claims, err := v.verify(ctx, token, now)
	if err != nil {
		span.SetAttributes(attribute.String("auth.error_code", string(sserr.GetCode(err))))
		finishSpan(span, err)
		return nil, err
	}

	span.SetAttributes(
		attribute.String("auth.subject", claims.Subject()),
		attribute.Int("auth.roles", len(claims.roles)),
	)
	return claims, nil
}

func (v *TokenVerifier) verify(ctx context.Context, token string, now time.Time) (*VerifiedClaims, error) {
	if token == "" {
		return nil, sserr.New(sserr.CodeAuthMissingToken, "auth: token must not be empty")
	}
	if len(token) > maxTokenSize {
		return nil, sserr.New(sserr.CodeAuthMissingToken, "auth: token exceeds maximum size")
	}

	unverified, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeAuthMissingToken, "auth: token is malformed")
	}

	alg, _ := unverified.Header["alg"].(string)
	if !slices.Contains(allowedAlgorithms, alg) {
		return nil, sserr.Newf(sserr.CodeAuthUnsupportedAlgorithm,
			"auth: algorithm %q is not permitted", alg)
	}

	kid, _ := unverified.Header["kid"].(string)
	if kid == "" {
		return nil, sserr.New(sserr.CodeAuthMissingToken, "auth: token header has no kid")
	}

	key, err := v.resolveKey(ctx, kid)
	if err != nil {
		return nil, err
	}
	if key.Algorithm != "" && key.Algorithm != alg {
		return nil, sserr.Newf(sserr.CodeAuthUnsupportedAlgorithm,
			"auth: key %q is bound to %s, token uses %s", kid, key.Algorithm, alg)
	}

	parsed, err := v.parser(now).Parse(token, func(*jwt.Token) (any, error) {
		return key.PublicKey, nil
	})
	if err != nil {
		return nil, classifyError(err)
	}

	mc, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, sserr.New(sserr.CodeAuthMissingToken, "auth: unable to read claims")
	}

	if err := v.checkAudience(mc); err != nil {
		return nil, err
	}

	exp, err := mc.GetExpirationTime()
	if err != nil || exp == nil {
		return nil, sserr.New(sserr.CodeAuthMissingToken, "auth: exp claim is invalid")
	}
	if !now.Before(exp.Add(v.leeway)) {
		return nil, sserr.New(sserr.CodeAuthExpired, "auth: token has expired")
	}

	return v.buildClaims(mc, exp.Time), nil
}

// resolveKey looks kid up, forcing exactly one refresh on a miss.
func (v *TokenVerifier) resolveKey(ctx context.Context, kid string) (KeyEntry, error) {
	if key, ok := v.keys.Resolve(kid); ok {
		return key, nil
	}

	refreshErr := v.keys.Refresh(ctx)
	if refreshErr != nil {
		v.logger.WarnContext(ctx, "auth: refresh for unknown key id failed",
			"kid", kid, "error", refreshErr)
	}

	if key, ok := v.keys.Resolve(kid); ok {
		return key, nil
	}

	err := sserr.Newf(sserr.CodeAuthUnknownKey, "auth: key id %q not found in key set", kid)
	if refreshErr != nil {
		err.Cause = refreshErr
	}
	return KeyEntry{}, err
}

func (v *TokenVerifier) parser(now time.Time) *jwt.Parser {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods(allowedAlgorithms),
		jwt.WithLeeway(v.leeway),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	return jwt.NewParser(opts...)
}

func (v *TokenVerifier) checkAudience(mc jwt.MapClaims) error {
	if len(v.audiences) == 0 {
		return nil
	}
	for _, aud := range stringList(mc["aud"], false) {
		if slices.Contains(v.audiences, aud) {
			return nil
		}
	}
	if azp, ok := mc["azp"].(string); ok && slices.Contains(v.audiences, azp) {
		return nil
	}
	return sserr.New(sserr.CodeAuthAudienceMismatch, "auth: token audience does not match")
}

func (v *TokenVerifier) buildClaims(mc jwt.MapClaims, exp time.Time) *VerifiedClaims {
	raw := map[string]any(mc)
	in := claimsInit{
		audience:  stringList(mc["aud"], false),
		expiresAt: exp,
		roles:     extractRoles(raw, v.rolePaths),
		raw:       raw,
	}
	in.subject, _ = mc["sub"].(string)
	in.issuer, _ = mc["iss"].(string)
	in.authorizedParty, in.hasAZP = mc["azp"].(string)
	if iat, err := mc.GetIssuedAt(); err == nil && iat != nil {
		in.issuedAt = iat.Time
	}
	return newVerifiedClaims(in)
}

// classifyError maps a golang-jwt parse error onto an AUTH code. More
// specific sentinels are checked first because the library joins them
// under ErrTokenInvalidClaims.
func classifyError(err error) *sserr.Error {
	var ssErr *sserr.Error
	if errors.As(err, &ssErr) {
		return ssErr
	}

	switch {
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return sserr.Wrap(err, sserr.CodeAuthSignatureInvalid, "auth: token signature is invalid")
	case errors.Is(err, jwt.ErrTokenExpired),
		errors.Is(err, jwt.ErrTokenNotValidYet),
		errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return sserr.Wrap(err, sserr.CodeAuthExpired, "auth: token is outside its validity window")
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return sserr.Wrap(err, sserr.CodeAuthIssuerMismatch, "auth: token issuer does not match")
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return sserr.Wrap(err, sserr.CodeAuthAudienceMismatch, "auth: token audience does not match")
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		return sserr.Wrap(err, sserr.CodeAuthUnsupportedAlgorithm, "auth: token is unverifiable")
	default:
		return sserr.Wrap(err, sserr.CodeAuthMissingToken, "auth: token is malformed")
	}
}
