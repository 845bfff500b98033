package identity

import (
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v4"
)

// Tier is the subscription tier an identity belongs to. Unregistered
// callers are TierAnonymous; registered callers carry their tier in the
// access token.
type Tier string

const (
	TierAnonymous Tier = "anonymous"
	TierFree      Tier = "free"
	TierPro       Tier = "pro"
)

var (
	ErrTokenExpired = errors.New("token expired")
	ErrInvalidToken = errors.New("invalid token")
)

// Identity is the metering subject of a comparison request. Authenticated
// identities have a single ledger key. Anonymous identities map to an IP
// bucket and, when the client supplied a fingerprint, a second independent
// bucket; admission is governed by the minimum of the two.
type Identity struct {
	Key          string
	SecondaryKey string
	Tier         Tier
	Anonymous    bool
}

// Keys returns all ledger bucket keys for this identity.
func (id Identity) Keys() []string {
	if id.SecondaryKey != "" {
		return []string{id.Key, id.SecondaryKey}
	}
	return []string{id.Key}
}

// TokenClaims is the access-token payload this service consumes. Token
// issuance lives in the account service; only subject and tier matter here.
type TokenClaims struct {
	jwt.RegisteredClaims
	Tier string `json:"tier"`
}

// FromToken validates an access token and builds the authenticated identity.
func FromToken(tokenString, secret string) (Identity, error) {
	token, err := jwt.ParseWithClaims(tokenString, &TokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return []byte(secret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, ErrTokenExpired
		}
		return Identity{}, ErrInvalidToken
	}

	claims, ok := token.Claims.(*TokenClaims)
	if !ok || !token.Valid || claims.Subject == "" {
		return Identity{}, ErrInvalidToken
	}

	tier := TierFree
	if Tier(claims.Tier) == TierPro {
		tier = TierPro
	}

	return Identity{Key: "user:" + claims.Subject, Tier: tier}, nil
}

// Anonymous builds the composite anonymous identity. Varying only the
// fingerprint (or only the IP) cannot evade the other bucket's limit.
func Anonymous(ip, fingerprint string) Identity {
	id := Identity{Key: "ip:" + ip, Tier: TierAnonymous, Anonymous: true}
	if fingerprint != "" {
		id.SecondaryKey = "fp:" + fingerprint
	}
	return id
}

// FromRequest resolves the caller identity for an HTTP request: a valid
// bearer token wins, otherwise the anonymous IP+fingerprint composite.
func FromRequest(r *http.Request, fingerprint, secret string) Identity {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") && secret != "" {
		if id, err := FromToken(strings.TrimPrefix(auth, "Bearer "), secret); err == nil {
			return id
		}
	}
	return Anonymous(ClientIP(r), fingerprint)
}

// ClientIP extracts the client address, honoring X-Forwarded-For when the
// request came through a proxy.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		if ip := strings.TrimSpace(parts[0]); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
