package audit

import (
	"encoding/json"
	"time"

	"go.uber.org/zap"
)

// SecurityEventType categorizes security-relevant events for filtering and alerting.
type SecurityEventType string

const (
	// EventSQLInjectionAttempt is logged when libinjection detects SQL injection patterns.
	EventSQLInjectionAttempt SecurityEventType = "sql_injection_attempt"
	// EventQueryRejected is logged when a query fails read-only validation.
	EventQueryRejected SecurityEventType = "query_rejected"
)

// SecurityEvent represents an auditable security event with all relevant
// context for SIEM ingestion and analysis.
type SecurityEvent struct {
	Timestamp time.Time         `json:"timestamp"`
	EventType SecurityEventType `json:"event_type"`
	UserID    string            `json:"user_id"`
	DBType    string            `json:"db_type"`
	Details   any               `json:"details"`
	Severity  string            `json:"severity"` // info, warning, critical
}

// SQLInjectionDetails contains specifics of a detected SQL injection attempt.
type SQLInjectionDetails struct {
	ParamName   string `json:"param_name"`
	ParamValue  string `json:"param_value"`
	Fingerprint string `json:"fingerprint"` // libinjection fingerprint for pattern analysis
}

// SecurityAuditor logs security events for SIEM consumption.
// Events are logged in structured JSON format with appropriate severity levels.
type SecurityAuditor struct {
	logger *zap.Logger
}

// NewSecurityAuditor creates a new security auditor with a dedicated
// "security_audit" logger namespace for easy filtering in SIEM systems.
func NewSecurityAuditor(logger *zap.Logger) *SecurityAuditor {
	return &SecurityAuditor{logger: logger.Named("security_audit")}
}

// LogInjectionAttempt records a detected SQL injection attempt with full
// context. Logged at ERROR level with "critical" severity for immediate
// alerting.
func (a *SecurityAuditor) LogInjectionAttempt(userID, dbType string, details SQLInjectionDetails) {
	event := SecurityEvent{
		Timestamp: time.Now().UTC(),
		EventType: EventSQLInjectionAttempt,
		UserID:    userID,
		DBType:    dbType,
		Details:   details,
		Severity:  "critical",
	}

	// Marshaling known types should never fail.
	eventJSON, _ := json.Marshal(event)

	a.logger.Error("SQL injection attempt detected",
		zap.String("event_json", string(eventJSON)),
		zap.String("user_id", userID),
		zap.String("db_type", dbType),
		zap.String("param_name", details.ParamName),
		zap.String("fingerprint", details.Fingerprint),
		zap.String("severity", "critical"),
	)
}

// LogQueryRejected records a query that failed read-only validation.
// Logged at WARN level; these are usually planner mistakes, not attacks.
func (a *SecurityAuditor) LogQueryRejected(userID, dbType, reason string) {
	event := SecurityEvent{
		Timestamp: time.Now().UTC(),
		EventType: EventQueryRejected,
		UserID:    userID,
		DBType:    dbType,
		Details:   map[string]string{"reason": reason},
		Severity:  "warning",
	}

	eventJSON, _ := json.Marshal(event)

	a.logger.Warn("Query rejected by read-only validation",
		zap.String("event_json", string(eventJSON)),
		zap.String("user_id", userID),
		zap.String("db_type", dbType),
		zap.String("reason", reason),
		zap.String("severity", "warning"),
	)
}
