package dnsbl

import (
	"encoding/base64"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"golang.org/x/crypto/bcrypt"
)

// basicAuth gates handlers behind HTTP Basic credentials checked against
// bcrypt hashes in users. With no users configured every request passes.
func basicAuth(users map[string]string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		if len(users) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if msg := checkBasicAuth(users, r.Header.Get("Authorization")); msg != "" {
				authFailures.WithLabelValues(msg).Inc()
				w.Header().Set("WWW-Authenticate", `Basic realm="dnsbl"`)
				writeError(w, http.StatusUnauthorized, msg)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// checkBasicAuth returns an empty string when header carries valid
// credentials, otherwise the reason they were rejected.
func checkBasicAuth(users map[string]string, header string) string {
	if header == "" {
		return "Authorization header is missing"
	}
	encoded, ok := strings.CutPrefix(header, "Basic ")
	if !ok {
		return "Invalid Authorization header"
	}
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "Unable to decode Authorization header"
	}
	username, password, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return "Password is missing from Authorization header"
	}

	hash, found := users[username]
	if !found {
		// keep timing close to the found case
		_ = bcrypt.CompareHashAndPassword([]byte(dummyHash), []byte(password))
		return "Invalid username and/or password"
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return "Invalid username and/or password"
	}
	return ""
}

// dummyHash is the bcrypt hash of an unused password.
const dummyHash = "$2a$10$7EqJtq98hPqEX7fNZaFWoOhi5BWX4Z3nLq2VrDJRA.NlvWZLeq0Wm"
