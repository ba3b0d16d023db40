package server

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
)

// normalizeOrigins lowercases and validates the configured origins. A bare
// "*" entry allows every origin.
func normalizeOrigins(origins []string, log zerolog.Logger) (map[string]struct{}, bool) {
	normalized := make(map[string]struct{}, len(origins))
	allowAll := false

	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		if trimmed == "*" {
			allowAll = true
			continue
		}
		normal, ok := normalizeOrigin(trimmed)
		if !ok {
			log.Warn().Str("origin", origin).Msg("ignoring invalid origin in configuration")
			continue
		}
		normalized[normal] = struct{}{}
	}

	return normalized, allowAll
}

func normalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil {
		return "", false
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}
	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), true
}

func (g *Gateway) checkOrigin(r *http.Request) bool {
	originHeader := r.Header.Get("Origin")
	if originHeader == "" {
		return false
	}

	normal, ok := normalizeOrigin(originHeader)
	if !ok {
		return false
	}

	if g.allowAll {
		return true
	}
	if _, exists := g.origins[normal]; exists {
		return true
	}

	g.log.Warn().Str("origin", originHeader).Msg("blocked websocket connection from disallowed origin")
	return false
}
