package output

import (
	"time"

	"go.uber.org/zap"

	"github.com/torosent/b52/internal/logging"
	"github.com/torosent/b52/internal/transfer"
)

// LogReporter writes each failed transfer to the structured log as it
// completes. It runs beside a stdout reporter and keeps no state.
type LogReporter struct {
	logger *zap.Logger
}

func NewLogReporter(logger *zap.Logger) *LogReporter {
	return &LogReporter{logger: logging.OrNop(logger)}
}

func (r *LogReporter) BatchStart(size int) {
	r.logger.Debug("batch start", zap.Int("size", size))
}

func (r *LogReporter) TransferComplete(o transfer.Outcome) {
	if o.Code == transfer.CodeOK {
		return
	}
	r.logger.Warn("transfer failed",
		zap.Int("request", o.Index+1),
		zap.String("url", o.URL),
		zap.Int("code", int(o.Code)),
		zap.Error(o.Err),
	)
}

func (r *LogReporter) RunComplete(elapsed time.Duration) {
	r.logger.Debug("run complete", zap.Duration("elapsed", elapsed))
}
