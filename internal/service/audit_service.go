package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/noah-isme/estate-erp-api/internal/models"
)

var auditJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// AuditEvent summarises one resolution or export.
type AuditEvent struct {
	Action     string    `json:"action"`
	Entity     string    `json:"entity"`
	UserID     string    `json:"user_id,omitempty"`
	ResourceID string    `json:"resource_id,omitempty"`
	ScopeLabel string    `json:"scope_label,omitempty"`
	Layers     []string  `json:"layers,omitempty"`
	Filters    []string  `json:"filters,omitempty"`
	Format     string    `json:"format,omitempty"`
	Scope      string    `json:"scope,omitempty"`
	RowCount   *int      `json:"row_count,omitempty"`
	Columns    []string  `json:"columns,omitempty"`
	RequestID  string    `json:"request_id,omitempty"`
	IPAddress  string    `json:"-"`
	UserAgent  string    `json:"-"`
	OccurredAt time.Time `json:"occurred_at"`
}

type requestMetaKey struct{}

type requestMeta struct {
	ip        string
	userAgent string
	requestID string
}

// WithRequestMeta attaches the caller's address, user agent and request id
// so events emitted further down the call chain carry them.
func WithRequestMeta(ctx context.Context, ip, userAgent, requestID string) context.Context {
	return context.WithValue(ctx, requestMetaKey{}, requestMeta{ip: ip, userAgent: userAgent, requestID: requestID})
}

// AuditSink receives audit events.
type AuditSink interface {
	Write(ctx context.Context, event AuditEvent) error
}

type auditLogWriter interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// RepositorySink persists events as audit_logs rows.
type RepositorySink struct {
	repo auditLogWriter
}

// NewRepositorySink wraps an audit log writer.
func NewRepositorySink(repo auditLogWriter) *RepositorySink {
	return &RepositorySink{repo: repo}
}

// Write implements AuditSink.
func (s *RepositorySink) Write(ctx context.Context, event AuditEvent) error {
	payload, err := auditJSON.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	entry := &models.AuditLog{
		Action:    event.Action,
		Resource:  event.Entity,
		NewValues: payload,
		IPAddress: event.IPAddress,
		UserAgent: event.UserAgent,
		CreatedAt: event.OccurredAt,
	}
	if event.UserID != "" {
		user := event.UserID
		entry.UserID = &user
	}
	if event.ResourceID != "" {
		id := event.ResourceID
		entry.ResourceID = &id
	}
	return s.repo.CreateAuditLog(ctx, entry)
}

// LogSink writes events to the structured log.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink builds a sink on logger.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Write implements AuditSink.
func (s *LogSink) Write(_ context.Context, event AuditEvent) error {
	fields := []zap.Field{
		zap.String("action", event.Action),
		zap.String("entity", event.Entity),
		zap.String("user_id", event.UserID),
		zap.String("scope_label", event.ScopeLabel),
		zap.Strings("layers", event.Layers),
		zap.Strings("filters", event.Filters),
	}
	if event.Format != "" {
		fields = append(fields, zap.String("format", event.Format), zap.String("scope", event.Scope), zap.Strings("columns", event.Columns))
	}
	if event.RowCount != nil {
		fields = append(fields, zap.Int("row_count", *event.RowCount))
	}
	if event.RequestID != "" {
		fields = append(fields, zap.String("request_id", event.RequestID))
	}
	s.logger.Info("audit", fields...)
	return nil
}

// AuditService fans events out to sinks. Emit never fails the caller: sink
// errors and panics are logged and swallowed.
type AuditService struct {
	sinks  []AuditSink
	async  bool
	logger *zap.Logger
	now    func() time.Time
	wg     sync.WaitGroup
}

// NewAuditService builds the service. With async set, sinks run on their own
// goroutine detached from the request context.
func NewAuditService(logger *zap.Logger, async bool, sinks ...AuditSink) *AuditService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditService{sinks: sinks, async: async, logger: logger, now: time.Now}
}

// Emit delivers event to every sink.
func (s *AuditService) Emit(ctx context.Context, event AuditEvent) {
	if s == nil || len(s.sinks) == 0 {
		return
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = s.now().UTC()
	}
	if meta, ok := ctx.Value(requestMetaKey{}).(requestMeta); ok {
		if event.IPAddress == "" {
			event.IPAddress = meta.ip
		}
		if event.UserAgent == "" {
			event.UserAgent = meta.userAgent
		}
		if event.RequestID == "" {
			event.RequestID = meta.requestID
		}
	}
	if !s.async {
		s.deliver(ctx, event)
		return
	}
	detached := context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(detached, 5*time.Second)
		defer cancel()
		s.deliver(ctx, event)
	}()
}

// Wait blocks until in-flight async deliveries finish.
func (s *AuditService) Wait() {
	if s == nil {
		return
	}
	s.wg.Wait()
}

func (s *AuditService) deliver(ctx context.Context, event AuditEvent) {
	for _, sink := range s.sinks {
		s.write(ctx, sink, event)
	}
}

func (s *AuditService) write(ctx context.Context, sink AuditSink, event AuditEvent) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("audit sink panicked", zap.String("action", event.Action), zap.Any("panic", r))
		}
	}()
	if err := sink.Write(ctx, event); err != nil {
		s.logger.Warn("audit sink failed", zap.String("action", event.Action), zap.String("entity", event.Entity), zap.Error(err))
	}
}
