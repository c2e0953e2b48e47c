package mcp

import (
	"context"
	"net"
	"net/http"
	"strings"
)

type contextKey string

const (
	contextKeyRemoteAddr contextKey = "assimilate-remote-addr"
	contextKeyClientID   contextKey = "assimilate-client-id"
)

// ClientIDHeader lets a client name itself in audit records.
const ClientIDHeader = "X-Assimilate-Client"

// WithRemoteAddr adds the remote address to context
func WithRemoteAddr(ctx context.Context, addr string) context.Context {
	return context.WithValue(ctx, contextKeyRemoteAddr, addr)
}

// GetRemoteAddr extracts the remote address from context
func GetRemoteAddr(ctx context.Context) string {
	return getStringFromContext(ctx, contextKeyRemoteAddr)
}

// WithClientID adds the client's self-declared ID to context
func WithClientID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextKeyClientID, id)
}

// GetClientID returns the client ID, falling back to the remote host.
func GetClientID(ctx context.Context) string {
	if id := getStringFromContext(ctx, contextKeyClientID); id != "" {
		return id
	}
	return hostOf(GetRemoteAddr(ctx))
}

// clientKey identifies the caller of an HTTP request for rate limiting. The
// first X-Forwarded-For entry wins over the connection address.
func clientKey(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	return hostOf(r.RemoteAddr)
}

func hostOf(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

func getStringFromContext(ctx context.Context, key contextKey) string {
	if val := ctx.Value(key); val != nil {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}
