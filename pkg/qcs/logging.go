package qcs

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// OperationLogger records state transitions emitted by the negotiation loop.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes one negotiation step.
type OperationLog struct {
	Operation   string
	Round       int
	LatticeName string
	StartTime   time.Time
	Price       AmountCents
	Candidates  int
	Status      string
	Error       error
}

// Normalize fills Status from Error when the caller left it blank.
func (entry OperationLog) Normalize() OperationLog {
	if entry.Status != "" {
		return entry
	}
	if entry.Error != nil {
		entry.Status = OperationStatusError
	} else {
		entry.Status = OperationStatusOK
	}
	return entry
}

// ZapOperationLogger forwards operation logs to zap.
type ZapOperationLogger struct {
	logger *zap.Logger
}

// NewZapOperationLogger wires a zap-backed OperationLogger.
func NewZapOperationLogger(logger *zap.Logger) *ZapOperationLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapOperationLogger{logger: logger}
}

// LogOperation writes the entry at debug level, or warn when it failed.
func (operationLogger *ZapOperationLogger) LogOperation(_ context.Context, entry OperationLog) {
	entry = entry.Normalize()
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.Int("round", entry.Round),
		zap.String("status", entry.Status),
	}
	if entry.LatticeName != "" {
		fields = append(fields, zap.String("lattice", entry.LatticeName))
	}
	if !entry.StartTime.IsZero() {
		fields = append(fields, zap.Time("start_time", entry.StartTime))
	}
	if entry.Price != 0 {
		fields = append(fields, zap.Int64("price_cents", entry.Price.Int64()))
	}
	if entry.Candidates != 0 {
		fields = append(fields, zap.Int("candidates", entry.Candidates))
	}
	if entry.Error != nil {
		operationLogger.logger.Warn("negotiation step failed", append(fields, zap.Error(entry.Error))...)
		return
	}
	operationLogger.logger.Debug("negotiation step", fields...)
}
