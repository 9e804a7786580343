package httpapi

import (
	"net"
	"net/http"
	"strings"
)

// ClientIDHeader lets a client pick the identifier used for its quota.
const ClientIDHeader = "X-Client-ID"

const maxClientTokenLen = 256

// ClientID derives the quota key for r: the caller host (after RealIP) and
// the X-Client-ID header, or the User-Agent when the header is absent. Both
// parts are client controlled, so this identifies a browser or CLI session,
// not a user.
func ClientID(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	token := strings.TrimSpace(r.Header.Get(ClientIDHeader))
	if token == "" {
		token = strings.TrimSpace(r.UserAgent())
	}
	if len(token) > maxClientTokenLen {
		token = token[:maxClientTokenLen]
	}
	return host + "|" + token
}
