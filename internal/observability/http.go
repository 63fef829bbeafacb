package observability

import (
	"net"
	"net/http"
	"strings"
)

// ClientMeta identifies the client behind a request in lifecycle envelopes.
type ClientMeta struct {
	DeviceID  string
	RequestID string
	IP        string
}

// ClientMetaFromRequest reads the client headers. A request id assigned earlier in the
// chain wins over the raw X-Request-Id header.
func ClientMetaFromRequest(r *http.Request) ClientMeta {
	meta := ClientMeta{
		DeviceID:  r.Header.Get("X-Device-Id"),
		RequestID: HeadersFromContext(r.Context())["x-request-id"],
		IP:        clientIP(r),
	}
	if meta.RequestID == "" {
		meta.RequestID = r.Header.Get("X-Request-Id")
	}
	return meta
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	if ip := r.Header.Get("X-Real-Ip"); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
