package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"
)

type localeContextKey struct{}

// LocaleKey stores the resolved locale in the request context.
var LocaleKey = localeContextKey{}

// CountryLookup resolves an ISO country code for an IP address. It is
// injectable so deployments with a geo database can plug one in; without it
// locale detection relies on headers alone.
type CountryLookup func(ip string) (string, error)

// LocaleResolver picks a response locale per request. Error messages in the
// generation stream are localized with it.
type LocaleResolver struct {
	Default string
	Country CountryLookup
}

// Middleware stores the resolved locale in the request context.
func (lr LocaleResolver) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), LocaleKey, lr.Resolve(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Resolve picks the locale: explicit X-Locale header first, then
// Accept-Language, then the client country, then the configured default.
func (lr LocaleResolver) Resolve(r *http.Request) string {
	if v := r.Header.Get("X-Locale"); v != "" {
		return normalizeLocale(v)
	}
	if v := firstAcceptLanguage(r.Header.Get("Accept-Language")); v != "" {
		return normalizeLocale(v)
	}
	if country := lr.country(r); country != "" {
		if strings.EqualFold(country, "ID") {
			return "id"
		}
		return "en"
	}
	if lr.Default != "" {
		return lr.Default
	}
	return "en"
}

func (lr LocaleResolver) country(r *http.Request) string {
	for _, key := range []string{"X-Country-Code", "CF-IPCountry"} {
		if v := strings.TrimSpace(r.Header.Get(key)); v != "" {
			return strings.ToUpper(v)
		}
	}
	if lr.Country != nil {
		if ip := ClientIP(r); ip != "" {
			if country, err := lr.Country(ip); err == nil {
				return strings.ToUpper(country)
			}
		}
	}
	return ""
}

func firstAcceptLanguage(header string) string {
	for _, part := range strings.Split(header, ",") {
		locale := strings.TrimSpace(strings.Split(part, ";")[0])
		if locale != "" {
			return locale
		}
	}
	return ""
}

func normalizeLocale(locale string) string {
	if strings.HasPrefix(strings.ToLower(locale), "id") {
		return "id"
	}
	return "en"
}

// LocaleFromContext returns the locale stored by the middleware.
func LocaleFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(LocaleKey).(string); ok {
		return v
	}
	return "en"
}

// ClientIP returns the best-effort client IP address for the request.
func ClientIP(r *http.Request) string {
	if xf := r.Header.Get("X-Forwarded-For"); xf != "" {
		parts := strings.Split(xf, ",")
		if len(parts) > 0 {
			return strings.TrimSpace(parts[0])
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
