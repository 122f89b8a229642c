package auth

import (
	"net/http"

	"github.com/sirupsen/logrus"
)

// AuditLogger records security-relevant events: authentication outcomes and
// mutations of fieldwork resources. Events go to the structured log; the
// resource history itself lives in the backup tables.
type AuditLogger struct {
	logger *logrus.Logger
}

// NewAuditLogger creates a new audit logger
func NewAuditLogger(logger *logrus.Logger) *AuditLogger {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &AuditLogger{logger: logger}
}

// LogAction logs an audit event for the given user.
func (al *AuditLogger) LogAction(userID int, action, resourceKind string, resourceID int, status string, err error) {
	fields := logrus.Fields{
		"action": action,
		"status": status,
	}
	if userID != 0 {
		fields["user_id"] = userID
	}
	if resourceKind != "" {
		fields["resource_kind"] = resourceKind
	}
	if resourceID != 0 {
		fields["resource_id"] = resourceID
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	al.logger.WithFields(fields).Info("audit")
}

// LogFromRequest records an audit event enriched with request metadata.
func (al *AuditLogger) LogFromRequest(r *http.Request, ac *AuthContext, action, resourceKind string, resourceID int, status string, err error) {
	fields := logrus.Fields{
		"action":     action,
		"status":     status,
		"ip_address": clientIP(r),
		"user_agent": r.UserAgent(),
	}
	if ac != nil && ac.User != nil {
		fields["user_id"] = ac.User.ID
	}
	if resourceKind != "" {
		fields["resource_kind"] = resourceKind
	}
	if resourceID != 0 {
		fields["resource_id"] = resourceID
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	al.logger.WithFields(fields).Info("audit")
}

func clientIP(r *http.Request) string {
	// Check X-Forwarded-For header (if behind proxy)
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return forwarded
	}

	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}

	return r.RemoteAddr
}

// Common audit action constants
const (
	ActionResourceCreate    = "resource.create"
	ActionResourceUpdate    = "resource.update"
	ActionResourceDelete    = "resource.delete"
	ActionParserCompile     = "parser.compile"
	ActionKeyIssue          = "key.issue"
	ActionKeyRevoke         = "key.revoke"
	ActionAuthSuccess       = "auth.success"
	ActionAuthFailure       = "auth.failure"
	ActionRateLimitExceeded = "ratelimit.exceeded"
)

// Status constants
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
	StatusDenied  = "denied"
)
