package handlers

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/SirClappington/jobexec/internal/jobexec"
)

// LogConfig is the configuration of a log job.
type LogConfig struct {
	Message string `json:"message"`
	// Fail makes the job fail with Message, which is useful for exercising
	// retries and dead letters.
	Fail bool `json:"fail,omitempty"`
}

// Log writes its message to the job logger.
type Log struct{}

func (Log) Execute(_ context.Context, ec jobexec.ExecutionContext, configuration []byte) error {
	var cfg LogConfig
	if len(configuration) > 0 {
		if err := json.Unmarshal(configuration, &cfg); err != nil {
			return errors.Wrap(err, "log: decode configuration")
		}
	}
	if cfg.Fail {
		return errors.Errorf("log: %s", cfg.Message)
	}
	ec.Logger.Info(cfg.Message, zap.Int("attempt", ec.Attempt), zap.String("tenant_id", ec.TenantID))
	return nil
}
