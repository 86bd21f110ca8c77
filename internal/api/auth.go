package api

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// requireAuth guards the control verbs with the static bearer token from
// config. An unset token disables the control surface entirely rather
// than leaving it open.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.AuthToken == "" {
			writeError(w, http.StatusForbidden, ErrCodeForbidden, "control endpoints disabled: no auth token configured")
			return
		}

		token, ok := bearerToken(r)
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AuthToken)) != 1 {
			writeUnauthorized(w, "invalid or missing bearer token")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// bearerToken extracts the token from an Authorization: Bearer header.
func bearerToken(r *http.Request) (string, bool) {
	const prefix = "Bearer "
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(header, prefix)), true
}

// handleWSTicket mints a short-lived single-use ticket for the WebSocket
// endpoint. Browsers cannot attach an Authorization header to an upgrade
// request, so the client trades the bearer token for a ticket and passes
// that in the query string instead. The ticket is an HS256 JWT signed
// with the configured auth token.
func (s *Server) handleWSTicket(w http.ResponseWriter, _ *http.Request) {
	ttl := time.Duration(s.wsCfg.TicketTTL) * time.Second
	now := time.Now()

	claims := jwt.MapClaims{
		"jti": generateTicketID(),
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.AuthToken))
	if err != nil {
		writeInternalError(w, "failed to mint ticket")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ticket":     signed,
		"expires_in": int(ttl.Seconds()),
	})
}

// validateTicket verifies a WebSocket ticket and consumes its ID so the
// same ticket cannot open a second connection.
func (s *Server) validateTicket(ticket string) bool {
	if s.cfg.AuthToken == "" {
		return false
	}

	token, err := jwt.Parse(ticket, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(s.cfg.AuthToken), nil
	}, jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return false
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return false
	}
	jti, _ := claims["jti"].(string) //nolint:errcheck // empty string rejected below
	if jti == "" {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}

	return s.tickets.consume(jti, exp.Time)
}

// ticketAudit tracks consumed ticket IDs until their expiry, making each
// ticket single-use.
type ticketAudit struct {
	used map[string]time.Time
	mu   sync.Mutex
}

func newTicketAudit() *ticketAudit {
	return &ticketAudit{used: make(map[string]time.Time)}
}

// consume marks a ticket ID as used. Returns false when the ID was
// already consumed.
func (a *ticketAudit) consume(jti string, expiresAt time.Time) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, seen := a.used[jti]; seen {
		return false
	}
	a.used[jti] = expiresAt
	return true
}

// sweep drops entries whose tickets have expired on their own. Expired
// tickets fail signature validation anyway, so keeping their IDs would
// only grow the map.
func (a *ticketAudit) sweep(now time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for jti, expiresAt := range a.used {
		if now.After(expiresAt) {
			delete(a.used, jti)
		}
	}
}

// cleanTicketsLoop sweeps consumed ticket IDs periodically until the
// context is cancelled.
func (s *Server) cleanTicketsLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(s.wsCfg.TicketTTL) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tickets.sweep(time.Now())
		}
	}
}

// ticketIDBytes is the number of random bytes in a ticket ID.
const ticketIDBytes = 16

// generateTicketID creates a cryptographically random ticket ID.
func generateTicketID() string {
	b := make([]byte, ticketIDBytes)
	//nolint:errcheck // crypto/rand.Read always returns len(b) on supported platforms
	rand.Read(b)
	return hex.EncodeToString(b)
}
