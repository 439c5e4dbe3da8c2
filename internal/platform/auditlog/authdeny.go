package auditlog

import (
	"context"
	"net"
	"strings"

	"github.com/animus-labs/animus-pipelines/internal/platform/auth"
)

// AuthDenyFunc adapts a sink to the auth middleware's audit hook.
func AuthDenyFunc(sink Sink, service string) auth.AuditFunc {
	return func(ctx context.Context, event auth.DenyEvent) error {
		return sink.Record(ctx, AuthDenyEvent(service, event))
	}
}

func AuthDenyEvent(service string, event auth.DenyEvent) Event {
	actor := "anonymous"
	if strings.TrimSpace(event.Subject) != "" {
		actor = strings.TrimSpace(event.Subject)
	}

	var ip net.IP
	if host, _, err := net.SplitHostPort(event.RemoteAddr); err == nil {
		ip = net.ParseIP(host)
	}

	return Event{
		OccurredAt:   event.Time,
		Actor:        actor,
		Action:       "auth." + strings.TrimSpace(event.Reason),
		ResourceType: "http",
		ResourceID:   event.Method + " " + event.Path,
		RequestID:    event.RequestID,
		IP:           ip,
		UserAgent:    event.UserAgent,
		Payload: map[string]any{
			"service": service,
			"status":  event.Status,
			"reason":  event.Reason,
			"error":   event.Error,
			"subject": event.Subject,
			"email":   event.Email,
			"roles":   event.Roles,
		},
	}
}
