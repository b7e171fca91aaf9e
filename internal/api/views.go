package api

import (
	"encoding/json"
	"time"

	"github.com/SirClappington/jobexec/internal/domain"
)

type jobView struct {
	ID                  string          `json:"id"`
	Kind                domain.Kind     `json:"kind"`
	HandlerType         string          `json:"handler_type"`
	Configuration       json.RawMessage `json:"configuration,omitempty"`
	TenantID            string          `json:"tenant_id,omitempty"`
	ExecutionID         string          `json:"execution_id,omitempty"`
	ProcessInstanceID   string          `json:"process_instance_id,omitempty"`
	ProcessDefinitionID string          `json:"process_definition_id,omitempty"`
	DueDate             time.Time       `json:"due_date"`
	LockOwner           *string         `json:"lock_owner,omitempty"`
	LockExpirationTime  *time.Time      `json:"lock_expiration_time,omitempty"`
	Retries             int             `json:"retries"`
	Attempts            int             `json:"attempts"`
	ExceptionMessage    string          `json:"exception_message,omitempty"`
	ExceptionStacktrace string          `json:"exception_stacktrace,omitempty"`
	Archive             bool            `json:"archive,omitempty"`
	Repeat              string          `json:"repeat,omitempty"`
	CreateTime          time.Time       `json:"create_time"`
}

type deadLetterView struct {
	jobView
	FailedAt time.Time `json:"failed_at"`
}

type historicView struct {
	jobView
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

func newJobView(j *domain.Job) jobView {
	return jobView{
		ID:                  j.ID,
		Kind:                j.Kind,
		HandlerType:         j.HandlerType,
		Configuration:       configurationJSON(j.Configuration),
		TenantID:            j.TenantID,
		ExecutionID:         j.ExecutionID,
		ProcessInstanceID:   j.ProcessInstanceID,
		ProcessDefinitionID: j.ProcessDefinitionID,
		DueDate:             j.DueDate,
		LockOwner:           j.LockOwner,
		LockExpirationTime:  j.LockExpirationTime,
		Retries:             j.Retries,
		Attempts:            j.Attempts,
		ExceptionMessage:    j.ExceptionMessage,
		ExceptionStacktrace: j.ExceptionStacktrace,
		Archive:             j.Archive,
		Repeat:              j.Repeat,
		CreateTime:          j.CreateTime,
	}
}

// configurationJSON embeds JSON configurations as-is and quotes anything
// else as a string.
func configurationJSON(b []byte) json.RawMessage {
	if len(b) == 0 {
		return nil
	}
	if json.Valid(b) {
		return b
	}
	quoted, _ := json.Marshal(string(b))
	return quoted
}
