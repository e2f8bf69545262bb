package health

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestStatusInMemory(t *testing.T) {
	report := NewService(nil, "", "").Status(context.Background())
	if !report.OK || report.Storage != "memory" || report.Dispatch != "inline" || report.LLMProvider != "none" {
		t.Fatalf("unexpected report %+v", report)
	}
}

func TestStatusReportsUnreachableDatabase(t *testing.T) {
	database, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer database.Close()
	mock.ExpectPing().WillReturnError(errors.New("dial tcp: connection refused password=secret"))

	report := NewService(database, "https://sqs.example/q", "anthropic").Status(context.Background())
	if report.OK || report.Database != "unreachable" || report.Dispatch != "sqs" {
		t.Fatalf("unexpected report %+v", report)
	}
	if report.Error == "" || report.Error == "dial tcp: connection refused password=secret" {
		t.Fatalf("expected sanitized error, got %q", report.Error)
	}
}
