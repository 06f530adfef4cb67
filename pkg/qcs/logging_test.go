package qcs

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestOperationLogNormalize(test *testing.T) {
	test.Parallel()
	if status := (OperationLog{}).Normalize().Status; status != OperationStatusOK {
		test.Fatalf("expected ok status, got %q", status)
	}
	if status := (OperationLog{Error: errors.New("boom")}).Normalize().Status; status != OperationStatusError {
		test.Fatalf("expected error status, got %q", status)
	}
	if status := (OperationLog{Status: "custom"}).Normalize().Status; status != "custom" {
		test.Fatalf("expected custom status to survive, got %q", status)
	}
}

func TestZapOperationLoggerLevels(test *testing.T) {
	test.Parallel()
	core, recorded := observer.New(zapcore.DebugLevel)
	operationLogger := NewZapOperationLogger(zap.New(core))
	operationLogger.LogOperation(context.Background(), OperationLog{
		Operation:   OperationQueryAvailability,
		Round:       1,
		LatticeName: "test-lattice",
		StartTime:   time.Date(2019, time.January, 15, 14, 30, 0, 0, time.UTC),
		Candidates:  2,
	})
	operationLogger.LogOperation(context.Background(), OperationLog{
		Operation: OperationBook,
		Round:     2,
		Price:     900,
		Error:     errors.New("boom"),
	})
	entries := recorded.AllUntimed()
	if len(entries) != 2 {
		test.Fatalf("expected two entries, got %d", len(entries))
	}
	if entries[0].Level != zapcore.DebugLevel || entries[0].ContextMap()["lattice"] != "test-lattice" {
		test.Fatalf("unexpected first entry %+v", entries[0])
	}
	if entries[1].Level != zapcore.WarnLevel || entries[1].ContextMap()["price_cents"] != int64(900) {
		test.Fatalf("unexpected second entry %+v", entries[1])
	}
}

func TestNewZapOperationLoggerNil(test *testing.T) {
	test.Parallel()
	NewZapOperationLogger(nil).LogOperation(context.Background(), OperationLog{Operation: OperationAbort})
}
