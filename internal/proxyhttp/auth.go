package proxyhttp

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/thushan/rama/pkg/rcontext"
	"github.com/thushan/rama/pkg/service"
)

// Claims is the set of proxy-auth-derived attributes a credential scheme
// populates into the request's Context, regardless of which scheme
// authenticated it. Basic auth derives these by splitting the username on
// "-" (e.g. "priority-high", "country-us"); the JWT scheme reads them
// straight out of token claims of the same names.
type Claims struct {
	Subject  string
	Priority string
	Country  string
}

type claimsKey struct{}

// ClaimsFromContext retrieves the Claims a proxy-auth Layer populated, if
// any.
func ClaimsFromContext(ctx *rcontext.Context) (Claims, bool) {
	return rcontext.Get[Claims](ctx, claimsKey{})
}

// ErrUnauthorized is the sentinel error an auth Layer returns for a
// missing or invalid credential; callers map it to HTTP 407 Proxy
// Authentication Required. It is a distinct sentinel from
// service.ErrRejected so the status-code mapping in application.go can
// tell an auth failure apart from a rate-limit or body-size rejection.
var ErrUnauthorized = errors.New("proxyhttp: proxy authentication required")

// setClaims stores claims on ctx's *rcontext.Context, if it carries one.
// A per-request Context (minted fresh per accepted connection/request by
// the listener runtime) is what callers are expected to pass in - never
// the shared Context a Layer was constructed with - so concurrent
// requests never see each other's claims.
func setClaims(ctx context.Context, claims Claims) {
	if rc, ok := ctx.(*rcontext.Context); ok {
		rcontext.Set(rc, claimsKey{}, claims)
	}
}

// BasicAuthLayer validates HTTP Basic credentials against validate and
// stores the derived Claims on the per-request Context. The whole username
// becomes the subject; split on "-", any "priority-<v>" or "country-<v>"
// segment pair in it sets the priority or country, the way the teacher's
// request_rate_limit.go groups trusted callers.
func BasicAuthLayer(validate func(user, pass string) bool) service.Layer[*http.Request, *http.Response] {
	return service.LayerFunc[*http.Request, *http.Response](func(inner service.Service[*http.Request, *http.Response]) service.Service[*http.Request, *http.Response] {
		return service.ServiceFunc[*http.Request, *http.Response](func(ctx context.Context, req *http.Request) (*http.Response, error) {
			user, pass, ok := parseBasicAuth(req.Header.Get("Proxy-Authorization"))
			if !ok || !validate(user, pass) {
				return nil, ErrUnauthorized
			}
			setClaims(ctx, claimsFromLabel(user))
			return inner.Serve(ctx, req)
		})
	})
}

// BearerAuthLayer validates a JWT bearer credential using keyFunc (the
// usual jwt.Keyfunc signature) and stores its "sub"/"priority"/"country"
// claims on the per-request Context. This is the supplemental credential
// scheme grounded in original_source/rama-crypto/src/jose; Basic remains
// the spec's baseline scheme.
func BearerAuthLayer(keyFunc jwt.Keyfunc) service.Layer[*http.Request, *http.Response] {
	return service.LayerFunc[*http.Request, *http.Response](func(inner service.Service[*http.Request, *http.Response]) service.Service[*http.Request, *http.Response] {
		return service.ServiceFunc[*http.Request, *http.Response](func(ctx context.Context, req *http.Request) (*http.Response, error) {
			raw := req.Header.Get("Proxy-Authorization")
			const prefix = "Bearer "
			if !strings.HasPrefix(raw, prefix) {
				return nil, ErrUnauthorized
			}

			token, err := jwt.Parse(strings.TrimPrefix(raw, prefix), keyFunc)
			if err != nil || !token.Valid {
				return nil, ErrUnauthorized
			}
			claims, _ := token.Claims.(jwt.MapClaims)

			setClaims(ctx, Claims{
				Subject:  stringClaim(claims, "sub"),
				Priority: stringClaim(claims, "priority"),
				Country:  stringClaim(claims, "country"),
			})
			return inner.Serve(ctx, req)
		})
	})
}

func stringClaim(claims jwt.MapClaims, name string) string {
	if claims == nil {
		return ""
	}
	v, _ := claims[name].(string)
	return v
}

func claimsFromLabel(username string) Claims {
	parts := strings.Split(username, "-")
	c := Claims{Subject: username}
	for i := 0; i+1 < len(parts); i++ {
		switch parts[i] {
		case "priority":
			c.Priority = parts[i+1]
			i++
		case "country":
			c.Country = parts[i+1]
			i++
		}
	}
	return c
}

// AuthConfig configures proxy-authentication enforcement shared by the
// plain-forward Service.Layer stack and ServeConnect's CONNECT path
// (which bypasses that stack and so checks the credential directly).
type AuthConfig struct {
	// Mode selects the credential scheme: "basic", "jwt", or "" to
	// disable enforcement.
	Mode string

	Validate func(user, pass string) bool
	KeyFunc  jwt.Keyfunc
}

// Layer builds the service.Layer matching cfg.Mode, or nil if
// enforcement is disabled.
func (cfg *AuthConfig) Layer() service.Layer[*http.Request, *http.Response] {
	switch cfg.Mode {
	case "basic":
		return BasicAuthLayer(cfg.Validate)
	case "jwt":
		return BearerAuthLayer(cfg.KeyFunc)
	default:
		return nil
	}
}

// checkConnectAuth validates r's Proxy-Authorization header against cfg
// for a CONNECT request, which never passes through the Service/Layer
// stack the plain-forward path uses. It returns the derived Claims and a
// nil error on success, and ErrUnauthorized otherwise.
func checkConnectAuth(cfg *AuthConfig, r *http.Request) (Claims, error) {
	switch cfg.Mode {
	case "basic":
		user, pass, ok := parseBasicAuth(r.Header.Get("Proxy-Authorization"))
		if !ok || !cfg.Validate(user, pass) {
			return Claims{}, ErrUnauthorized
		}
		return claimsFromLabel(user), nil
	case "jwt":
		raw := r.Header.Get("Proxy-Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(raw, prefix) {
			return Claims{}, ErrUnauthorized
		}
		token, err := jwt.Parse(strings.TrimPrefix(raw, prefix), cfg.KeyFunc)
		if err != nil || !token.Valid {
			return Claims{}, ErrUnauthorized
		}
		claims, _ := token.Claims.(jwt.MapClaims)
		return Claims{
			Subject:  stringClaim(claims, "sub"),
			Priority: stringClaim(claims, "priority"),
			Country:  stringClaim(claims, "country"),
		}, nil
	default:
		return Claims{}, nil
	}
}

func parseBasicAuth(header string) (user, pass string, ok bool) {
	const prefix = "Basic "
	if !strings.HasPrefix(header, prefix) {
		return "", "", false
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(header, prefix))
	if err != nil {
		return "", "", false
	}
	user, pass, ok = strings.Cut(string(decoded), ":")
	return user, pass, ok
}
