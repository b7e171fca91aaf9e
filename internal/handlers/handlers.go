// Package handlers holds the built-in job handlers the binaries register.
package handlers

import (
	"net/http"
	"time"

	"github.com/SirClappington/jobexec/internal/jobexec"
)

// Handler types.
const (
	TypeLog     = "log"
	TypeWebhook = "webhook"
)

// Register adds every built-in handler to r.
func Register(r *jobexec.Registry) error {
	if err := r.Register(TypeLog, Log{}); err != nil {
		return err
	}
	return r.Register(TypeWebhook, NewWebhook(&http.Client{Timeout: 10 * time.Second}))
}
