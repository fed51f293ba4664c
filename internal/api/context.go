package api

import (
	"net/http"
	"strings"

	"github.com/webibook/analytics/internal/domain"
)

// clientContext resolves the request's network identity and edge-provided
// geo tags into the value the core consumes. Geo lookup itself is external;
// we only read what the CDN already stamped on the request.
func clientContext(r *http.Request) domain.ClientContext {
	ua := r.UserAgent()
	return domain.ClientContext{
		IPAddress:  realIP(r),
		UserAgent:  ua,
		Referrer:   r.Referer(),
		DeviceType: detectDevice(ua),
		Country:    firstHeader(r, "CF-IPCountry", "X-Geo-Country"),
		Region:     firstHeader(r, "X-Geo-Region"),
		City:       firstHeader(r, "X-Geo-City"),
	}
}

func firstHeader(r *http.Request, names ...string) string {
	for _, n := range names {
		if v := r.Header.Get(n); v != "" {
			return v
		}
	}
	return ""
}

// realIP prefers the leftmost X-Forwarded-For hop, then X-Real-Ip, then
// the socket address.
func realIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx > 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return xff
	}
	if xri := r.Header.Get("X-Real-Ip"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}

// detectDevice classifies a user agent into a coarse device type.
func detectDevice(ua string) string {
	ua = strings.ToLower(ua)
	switch {
	case ua == "":
		return ""
	case strings.Contains(ua, "ipad") || strings.Contains(ua, "tablet"):
		return "tablet"
	case strings.Contains(ua, "mobile") || strings.Contains(ua, "iphone") || strings.Contains(ua, "android"):
		return "mobile"
	case strings.Contains(ua, "bot") || strings.Contains(ua, "crawler") || strings.Contains(ua, "spider"):
		return "bot"
	default:
		return "desktop"
	}
}

// bearerCredential extracts the credential from the Authorization header or
// the legacy session cookie. Empty means anonymous.
func bearerCredential(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	if c, err := r.Cookie("webibook_session"); err == nil {
		return c.Value
	}
	return ""
}
