// Package auditlog records registry mutations and access denials as
// append-only events with an integrity digest.
package auditlog

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"
)

type Event struct {
	OccurredAt   time.Time
	Actor        string
	Action       string
	ResourceType string
	ResourceID   string
	RequestID    string
	IP           net.IP
	UserAgent    string
	Payload      any
}

type QueryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (e Event) Validate() error {
	required := []struct {
		field string
		value string
	}{
		{"Actor", e.Actor},
		{"Action", e.Action},
		{"ResourceType", e.ResourceType},
		{"ResourceID", e.ResourceID},
	}
	if e.OccurredAt.IsZero() {
		return errors.New("OccurredAt is required")
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return fmt.Errorf("%s is required", r.field)
		}
	}
	return nil
}

// sealed is an event normalized for storage: trimmed, timestamped in UTC,
// payload encoded and digested.
type sealed struct {
	OccurredAt   time.Time       `json:"occurred_at"`
	Actor        string          `json:"actor"`
	Action       string          `json:"action"`
	ResourceType string          `json:"resource_type"`
	ResourceID   string          `json:"resource_id"`
	RequestID    string          `json:"request_id,omitempty"`
	IP           string          `json:"ip,omitempty"`
	UserAgent    string          `json:"user_agent,omitempty"`
	Payload      json.RawMessage `json:"payload"`
}

func normalize(event Event, payloadJSON []byte) sealed {
	ip := ""
	if event.IP != nil {
		ip = event.IP.String()
	}
	return sealed{
		OccurredAt:   event.OccurredAt.UTC(),
		Actor:        strings.TrimSpace(event.Actor),
		Action:       strings.TrimSpace(event.Action),
		ResourceType: strings.TrimSpace(event.ResourceType),
		ResourceID:   strings.TrimSpace(event.ResourceID),
		RequestID:    strings.TrimSpace(event.RequestID),
		IP:           ip,
		UserAgent:    strings.TrimSpace(event.UserAgent),
		Payload:      payloadJSON,
	}
}

func seal(event Event) (sealed, string, error) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	if err := event.Validate(); err != nil {
		return sealed{}, "", err
	}
	payload := event.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return sealed{}, "", fmt.Errorf("marshal payload: %w", err)
	}
	rec := normalize(event, payloadJSON)
	digest, err := rec.digest()
	if err != nil {
		return sealed{}, "", err
	}
	return rec, digest, nil
}

func (s sealed) digest() (string, error) {
	blob, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("marshal integrity: %w", err)
	}
	sum := sha256.Sum256(blob)
	return hex.EncodeToString(sum[:]), nil
}

// ComputeIntegritySHA256 digests the normalized event together with its
// encoded payload. Any change to either changes the digest.
func ComputeIntegritySHA256(event Event, payloadJSON []byte) (string, error) {
	return normalize(event, payloadJSON).digest()
}

func nullable(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

// Insert appends event to audit_events and returns its id.
func Insert(ctx context.Context, q QueryRower, event Event) (int64, error) {
	if q == nil {
		return 0, errors.New("queryer is required")
	}
	rec, digest, err := seal(event)
	if err != nil {
		return 0, err
	}
	var id int64
	err = q.QueryRowContext(ctx,
		`INSERT INTO audit_events (occurred_at, actor, action, resource_type, resource_id, request_id, ip, user_agent, payload, integrity_sha256)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING event_id`,
		rec.OccurredAt, rec.Actor, rec.Action, rec.ResourceType, rec.ResourceID,
		nullable(rec.RequestID), nullable(rec.IP), nullable(rec.UserAgent),
		[]byte(rec.Payload), digest,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert audit event: %w", err)
	}
	return id, nil
}

// Sink receives audit events. SQLSink writes them to audit_events; LogSink
// emits them as structured log lines when no database is configured.
type Sink interface {
	Record(ctx context.Context, event Event) error
}

type SQLSink struct {
	DB QueryRower
}

func (s SQLSink) Record(ctx context.Context, event Event) error {
	_, err := Insert(ctx, s.DB, event)
	return err
}

type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Record(ctx context.Context, event Event) error {
	rec, digest, err := seal(event)
	if err != nil {
		return err
	}
	if s.Logger == nil {
		return nil
	}
	s.Logger.InfoContext(ctx, "audit event",
		"actor", rec.Actor,
		"action", rec.Action,
		"resource_type", rec.ResourceType,
		"resource_id", rec.ResourceID,
		"request_id", rec.RequestID,
		"payload", rec.Payload,
		"integrity_sha256", digest,
	)
	return nil
}
