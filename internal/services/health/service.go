package health

import (
	"context"
	"database/sql"
	"time"

	"routing-backend/internal/shared/storage/db"
	"routing-backend/internal/shared/util"
)

const pingTimeout = 2 * time.Second

// Report is the /health payload.
type Report struct {
	OK            bool   `json:"ok"`
	Storage       string `json:"storage"`
	Database      string `json:"database,omitempty"`
	SchemaVersion int64  `json:"schemaVersion,omitempty"`
	Dispatch      string `json:"dispatch"`
	LLMProvider   string `json:"llmProvider"`
	Error         string `json:"error,omitempty"`
}

// Service reports whether the process can serve traffic.
type Service struct {
	DB          *sql.DB
	QueueURL    string
	LLMProvider string
}

// NewService constructs a health service. A nil database means in-memory storage.
func NewService(database *sql.DB, queueURL, llmProvider string) *Service {
	return &Service{DB: database, QueueURL: queueURL, LLMProvider: llmProvider}
}

// Status pings the database and reports the running configuration.
func (s *Service) Status(ctx context.Context) Report {
	report := Report{OK: true, Storage: "memory", Dispatch: "inline", LLMProvider: s.LLMProvider}
	if report.LLMProvider == "" {
		report.LLMProvider = "none"
	}
	if s.QueueURL != "" {
		report.Dispatch = "sqs"
	}
	if s.DB == nil {
		return report
	}

	report.Storage = "postgres"
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := s.DB.PingContext(pingCtx); err != nil {
		report.OK = false
		report.Database = "unreachable"
		report.Error = util.SanitizeDiagnostic(err)
		return report
	}
	report.Database = "ok"
	if version, err := db.SchemaVersion(pingCtx, s.DB); err == nil {
		report.SchemaVersion = version
	}
	return report
}
