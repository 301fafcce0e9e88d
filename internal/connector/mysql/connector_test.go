package mysql

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	mysqldriver "github.com/go-sql-driver/mysql"

	"github.com/pulsemetrics/pulse/internal/model"
)

func TestNormalizeDSN(t *testing.T) {
	got, err := normalizeDSN("pulse:secret@db:3306/pulse")
	if err != nil {
		t.Fatalf("normalizeDSN: %v", err)
	}
	if !strings.Contains(got, "@tcp(db:3306)/pulse") {
		t.Errorf("expected tcp address, got %q", got)
	}
	if !strings.Contains(got, "parseTime=true") {
		t.Errorf("expected parseTime=true, got %q", got)
	}

	if _, err := normalizeDSN("pulse:secret@tcp(db:3306)"); err == nil {
		t.Error("expected error for unusable DSN")
	}
}

func TestTimeBucket(t *testing.T) {
	c := &MySQLConnector{}
	tests := []struct {
		g    model.Granularity
		want string
	}{
		{model.GranularityMinute, "DATE_FORMAT(timestamp, '%Y-%m-%dT%H:%i:00Z')"},
		{model.GranularityHour, "DATE_FORMAT(timestamp, '%Y-%m-%dT%H:00:00Z')"},
		{model.GranularityDay, "DATE_FORMAT(timestamp, '%Y-%m-%dT00:00:00Z')"},
	}
	for _, tt := range tests {
		if got := c.TimeBucket("timestamp", tt.g); got != tt.want {
			t.Errorf("%s: got %q, want %q", tt.g, got, tt.want)
		}
	}
}

func TestIsUniqueViolation(t *testing.T) {
	c := &MySQLConnector{}
	if !c.IsUniqueViolation(fmt.Errorf("insert: %w", &mysqldriver.MySQLError{Number: 1062})) {
		t.Error("expected 1062 to be a unique violation")
	}
	if c.IsUniqueViolation(&mysqldriver.MySQLError{Number: 1452}) {
		t.Error("foreign key failure is not a unique violation")
	}
	if c.IsUniqueViolation(errors.New("Duplicate entry")) {
		t.Error("untyped errors should not match")
	}
	if !c.IsAlreadyExists(&mysqldriver.MySQLError{Number: 1050}) {
		t.Error("expected 1050 to mean already exists")
	}
}

func TestMigrationsDeclareIndexesInline(t *testing.T) {
	for _, stmt := range (&MySQLConnector{}).Migrations() {
		if !strings.HasPrefix(strings.TrimSpace(stmt), "CREATE TABLE IF NOT EXISTS") {
			t.Errorf("unexpected statement: %s", stmt)
		}
	}
}

func TestMetricGroupingColumnsAreBinary(t *testing.T) {
	var metrics string
	for _, stmt := range (&MySQLConnector{}).Migrations() {
		if strings.Contains(stmt, "CREATE TABLE IF NOT EXISTS metrics") {
			metrics = stmt
		}
	}
	for _, col := range []string{"url_path VARCHAR(768) COLLATE utf8mb4_bin", "method VARCHAR(16) COLLATE utf8mb4_bin"} {
		if !strings.Contains(metrics, col) {
			t.Errorf("metrics table missing %q", col)
		}
	}
}

func TestLockRow(t *testing.T) {
	got := (&MySQLConnector{}).LockRow("projects")
	if got != "SELECT id FROM projects WHERE id = ? FOR UPDATE" {
		t.Errorf("LockRow = %q", got)
	}
}
