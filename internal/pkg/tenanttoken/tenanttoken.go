// Package tenanttoken issues and validates short-lived, tenant-scoped access
// tokens that gate access to tenant-isolated resource paths. Tokens are
// stateless: a salted digest over (subject, tenant, path, time window) that
// only the server can reproduce. The tenant segment embedded in the path is
// the authorization boundary itself.
package tenanttoken

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
)

const tenantPathPrefix = "rent/"

var (
	ErrBadTenantCode       = errors.New("invalid tenant code")
	ErrEmptyResourcePath   = errors.New("resource path is required")
	ErrCrossTenantAccess   = errors.New("cross tenant access denied")
	ErrUnknownResourcePath = errors.New("unknown resource path")
	ErrInvalidToken        = errors.New("invalid access token")
)

var tenantCodeRe = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// AccessType classifies a validated path.
type AccessType string

const (
	AccessPublic AccessType = "public"
	AccessTenant AccessType = "tenant"
)

// Token is an issued scoped access token.
type Token struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Result is the outcome of a validation.
type Result struct {
	Valid      bool
	AccessType AccessType
	Err        error
}

// Config shapes the digest and the path policy.
type Config struct {
	// Window is the digest time window; a token stays reproducible within its
	// window and the immediately preceding one.
	Window time.Duration
	// ValidityBuffer extends the advertised expiry past the window boundary.
	ValidityBuffer time.Duration
	// Prefix marks the token family, e.g. "KT_" or "OSS_".
	Prefix string
	// Salt is the server-side secret. Required; never logged.
	Salt string
	// PublicPrefixes are shared read-only path roots accepted without any
	// tenant or digest check, e.g. "system/", "games/".
	PublicPrefixes []string
	// BasePrefix is stripped from incoming paths before policy checks, e.g.
	// a storage bucket mount point.
	BasePrefix string
}

// Issuer issues and validates scoped tokens. Stateless and safe for
// concurrent use.
type Issuer struct {
	cfg Config
	now func() time.Time
}

// New creates an Issuer. Panics when the salt is missing since every issued
// token would otherwise be forgeable.
func New(cfg Config) *Issuer {
	if cfg.Salt == "" {
		panic("tenanttoken: salt is required")
	}
	if cfg.Window <= 0 {
		cfg.Window = 30 * time.Minute
	}
	return &Issuer{cfg: cfg, now: time.Now}
}

// TenantPath is the only sanctioned way to build a tenant-scoped resource
// path, so every writer embeds the tenant segment consistently.
func TenantPath(tenantKey, subPath string) string {
	return tenantPathPrefix + tenantKey + "/" + strings.TrimPrefix(subPath, "/")
}

// Issue creates a token for the subject to access resourcePath under
// tenantCode, valid for the current time window.
func (i *Issuer) Issue(subject, tenantCode, resourcePath string) (*Token, error) {
	if !tenantCodeRe.MatchString(tenantCode) {
		return nil, ErrBadTenantCode
	}
	path := i.normalize(resourcePath)
	if path == "" {
		return nil, ErrEmptyResourcePath
	}
	window := i.window(0)
	return &Token{
		Token:     i.cfg.Prefix + i.digest(subject, tenantCode, path, window),
		ExpiresAt: time.Unix(window*int64(i.cfg.Window.Seconds()), 0).Add(i.cfg.Window + i.cfg.ValidityBuffer),
	}, nil
}

// Validate checks a presented token against the path policy:
// public-prefix paths pass unconditionally; tenant paths must embed the
// caller's tenant and carry a digest for the current or previous window;
// anything else is rejected outright.
func (i *Issuer) Validate(subject, tenantCode, resourcePath, token string) Result {
	path := i.normalize(resourcePath)
	if path == "" {
		return Result{Err: ErrEmptyResourcePath}
	}

	for _, prefix := range i.cfg.PublicPrefixes {
		if strings.HasPrefix(path, prefix) {
			return Result{Valid: true, AccessType: AccessPublic}
		}
	}

	if !strings.HasPrefix(path, tenantPathPrefix) {
		return Result{Err: ErrUnknownResourcePath}
	}

	rest := strings.TrimPrefix(path, tenantPathPrefix)
	pathTenant, _, _ := strings.Cut(rest, "/")
	if pathTenant == "" || pathTenant != tenantCode {
		return Result{AccessType: AccessTenant, Err: fmt.Errorf("%w: path tenant %q, caller tenant %q", ErrCrossTenantAccess, pathTenant, tenantCode)}
	}

	if i.cfg.Prefix != "" && !strings.HasPrefix(token, i.cfg.Prefix) {
		return Result{AccessType: AccessTenant, Err: ErrInvalidToken}
	}
	presented := strings.TrimPrefix(token, i.cfg.Prefix)
	if presented == "" {
		return Result{AccessType: AccessTenant, Err: ErrInvalidToken}
	}
	// Tolerate the window boundary: the current and the immediately
	// preceding window both verify.
	for _, offset := range []int64{0, -1} {
		if hmacEqual(presented, i.digest(subject, tenantCode, path, i.window(offset))) {
			return Result{Valid: true, AccessType: AccessTenant}
		}
	}
	return Result{AccessType: AccessTenant, Err: ErrInvalidToken}
}

// normalize strips scheme/host and the configured base prefix, returning a
// relative object path.
func (i *Issuer) normalize(resourcePath string) string {
	path := strings.TrimSpace(resourcePath)
	if strings.Contains(path, "://") {
		if u, err := url.Parse(path); err == nil {
			path = u.Path
		}
	}
	path = strings.TrimPrefix(path, "/")
	if i.cfg.BasePrefix != "" {
		path = strings.TrimPrefix(path, strings.TrimPrefix(i.cfg.BasePrefix, "/"))
		path = strings.TrimPrefix(path, "/")
	}
	return path
}

func (i *Issuer) window(offset int64) int64 {
	return i.now().Unix()/int64(i.cfg.Window.Seconds()) + offset
}

func (i *Issuer) digest(subject, tenantCode, path string, window int64) string {
	payload := fmt.Sprintf("%s:%s:%s:%d:%s", subject, tenantCode, path, window, i.cfg.Salt)
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// hmacEqual compares hex digests in constant time.
func hmacEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	var diff byte
	for i := 0; i < len(a); i++ {
		diff |= a[i] ^ b[i]
	}
	return diff == 0
}
