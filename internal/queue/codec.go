package queue

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/SirClappington/jobexec/internal/domain"
)

// record is the stored JSON form of a job. Lease fields live beside the
// body in the job hash, never inside it.
type record struct {
	ID                  string      `json:"id"`
	Kind                domain.Kind `json:"kind"`
	HandlerType         string      `json:"handler_type"`
	Configuration       []byte      `json:"configuration,omitempty"`
	TenantID            string      `json:"tenant_id,omitempty"`
	ExecutionID         string      `json:"execution_id,omitempty"`
	ProcessInstanceID   string      `json:"process_instance_id,omitempty"`
	ProcessDefinitionID string      `json:"process_definition_id,omitempty"`
	DueDate             time.Time   `json:"due_date"`
	Retries             int         `json:"retries"`
	Attempts            int         `json:"attempts"`
	ExceptionMessage    string      `json:"exception_message,omitempty"`
	ExceptionStacktrace string      `json:"exception_stacktrace,omitempty"`
	Archive             bool        `json:"archive,omitempty"`
	Repeat              string      `json:"repeat,omitempty"`
	CreateTime          time.Time   `json:"create_time"`

	FailedAt  *time.Time `json:"failed_at,omitempty"`
	StartTime *time.Time `json:"start_time,omitempty"`
	EndTime   *time.Time `json:"end_time,omitempty"`
}

func toRecord(j *domain.Job) record {
	return record{
		ID:                  j.ID,
		Kind:                j.Kind,
		HandlerType:         j.HandlerType,
		Configuration:       j.Configuration,
		TenantID:            j.TenantID,
		ExecutionID:         j.ExecutionID,
		ProcessInstanceID:   j.ProcessInstanceID,
		ProcessDefinitionID: j.ProcessDefinitionID,
		DueDate:             j.DueDate.UTC(),
		Retries:             j.Retries,
		Attempts:            j.Attempts,
		ExceptionMessage:    j.ExceptionMessage,
		ExceptionStacktrace: j.ExceptionStacktrace,
		Archive:             j.Archive,
		Repeat:              j.Repeat,
		CreateTime:          j.CreateTime.UTC(),
	}
}

func (rec record) job() domain.Job {
	return domain.Job{
		ID:                  rec.ID,
		Kind:                rec.Kind,
		HandlerType:         rec.HandlerType,
		Configuration:       rec.Configuration,
		TenantID:            rec.TenantID,
		ExecutionID:         rec.ExecutionID,
		ProcessInstanceID:   rec.ProcessInstanceID,
		ProcessDefinitionID: rec.ProcessDefinitionID,
		DueDate:             rec.DueDate.UTC(),
		Retries:             rec.Retries,
		Attempts:            rec.Attempts,
		ExceptionMessage:    rec.ExceptionMessage,
		ExceptionStacktrace: rec.ExceptionStacktrace,
		Archive:             rec.Archive,
		Repeat:              rec.Repeat,
		CreateTime:          rec.CreateTime.UTC(),
	}
}

func encode(rec record) (string, error) {
	b, err := json.Marshal(rec)
	if err != nil {
		return "", errors.Wrap(err, "queue: encode")
	}
	return string(b), nil
}

func decode(s string) (record, error) {
	var rec record
	if err := json.Unmarshal([]byte(s), &rec); err != nil {
		return rec, errors.Wrap(err, "queue: decode")
	}
	return rec, nil
}

func encodeJob(j *domain.Job) (string, error) { return encode(toRecord(j)) }

func encodeDeadLetter(d *domain.DeadLetterJob) (string, error) {
	rec := toRecord(&d.Job)
	failed := d.FailedAt.UTC()
	rec.FailedAt = &failed
	return encode(rec)
}

func encodeHistoric(h *domain.HistoricJob) (string, error) {
	rec := toRecord(&h.Job)
	start, end := h.StartTime.UTC(), h.EndTime.UTC()
	rec.StartTime, rec.EndTime = &start, &end
	return encode(rec)
}

func decodeDeadLetter(s string) (*domain.DeadLetterJob, error) {
	rec, err := decode(s)
	if err != nil {
		return nil, err
	}
	d := &domain.DeadLetterJob{Job: rec.job()}
	if rec.FailedAt != nil {
		d.FailedAt = rec.FailedAt.UTC()
	}
	return d, nil
}

func decodeHistoric(s string) (*domain.HistoricJob, error) {
	rec, err := decode(s)
	if err != nil {
		return nil, err
	}
	h := &domain.HistoricJob{Job: rec.job()}
	if rec.StartTime != nil {
		h.StartTime = rec.StartTime.UTC()
	}
	if rec.EndTime != nil {
		h.EndTime = rec.EndTime.UTC()
	}
	return h, nil
}

// ceilMilli scores t in whole milliseconds, rounding up so a sorted-set
// range never sees a due date or expiration earlier than it is.
func ceilMilli(t time.Time) int64 {
	ms := t.UnixMilli()
	if t.After(time.UnixMilli(ms)) {
		ms++
	}
	return ms
}
