package azauth

import (
	"context"

	"github.com/azora-os/azauth/session"
)

type clientIPContextKey struct{}
type userAgentContextKey struct{}

// WithClientIP attaches the caller's IP address to ctx. The engine uses it
// for per-IP login throttling, audit events and session metadata.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

// WithUserAgent attaches the HTTP User-Agent string to ctx.
func WithUserAgent(ctx context.Context, userAgent string) context.Context {
	return context.WithValue(ctx, userAgentContextKey{}, userAgent)
}

func clientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	ip, _ := ctx.Value(clientIPContextKey{}).(string)
	return ip
}

func userAgentFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	ua, _ := ctx.Value(userAgentContextKey{}).(string)
	return ua
}

// clientFromContext prefers explicit metadata and falls back to what the
// transport attached to ctx.
func clientFromContext(ctx context.Context, explicit session.Metadata) session.Metadata {
	if explicit.Kind() != session.MetadataNone {
		return explicit
	}
	ip, ua := clientIPFromContext(ctx), userAgentFromContext(ctx)
	if ip == "" && ua == "" {
		return session.Metadata{}
	}
	return session.RequestMetadata(session.RequestContext{IP: ip, UserAgent: ua})
}
