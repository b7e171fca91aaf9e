package mongostore

import (
	"time"

	"github.com/SirClappington/jobexec/internal/domain"
)

// document is the BSON form shared by every collection. Live jobs carry the
// lease pair; dead letters add failedAt and historic jobs the attempt window.
type document struct {
	ID                  string      `bson:"_id"`
	Kind                domain.Kind `bson:"kind"`
	HandlerType         string      `bson:"handlerType"`
	Configuration       []byte      `bson:"configuration,omitempty"`
	TenantID            string      `bson:"tenantId"`
	ExecutionID         string      `bson:"executionId"`
	ProcessInstanceID   string      `bson:"processInstanceId"`
	ProcessDefinitionID string      `bson:"processDefinitionId"`
	DueDate             time.Time   `bson:"dueDate"`
	LockOwner           *string     `bson:"lockOwner"`
	LockExpirationTime  *time.Time  `bson:"lockExpirationTime"`
	Retries             int         `bson:"retries"`
	Attempts            int         `bson:"attempts"`
	ExceptionMessage    string      `bson:"exceptionMessage"`
	ExceptionStacktrace string      `bson:"exceptionStacktrace"`
	Archive             bool        `bson:"archive"`
	Repeat              string      `bson:"repeat"`
	CreateTime          time.Time   `bson:"createTime"`

	FailedAt  *time.Time `bson:"failedAt,omitempty"`
	StartTime *time.Time `bson:"startTime,omitempty"`
	EndTime   *time.Time `bson:"endTime,omitempty"`
}

func toDocument(j *domain.Job) document {
	return document{
		ID:                  j.ID,
		Kind:                j.Kind,
		HandlerType:         j.HandlerType,
		Configuration:       j.Configuration,
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

func (d document) job() *domain.Job {
	j := &domain.Job{
		ID:                  d.ID,
		Kind:                d.Kind,
		HandlerType:         d.HandlerType,
		Configuration:       d.Configuration,
		TenantID:            d.TenantID,
		ExecutionID:         d.ExecutionID,
		ProcessInstanceID:   d.ProcessInstanceID,
		ProcessDefinitionID: d.ProcessDefinitionID,
		DueDate:             d.DueDate.UTC(),
		Retries:             d.Retries,
		Attempts:            d.Attempts,
		ExceptionMessage:    d.ExceptionMessage,
		ExceptionStacktrace: d.ExceptionStacktrace,
		Archive:             d.Archive,
		Repeat:              d.Repeat,
		CreateTime:          d.CreateTime.UTC(),
	}
	if d.LockOwner != nil && d.LockExpirationTime != nil {
		j.Lease(*d.LockOwner, d.LockExpirationTime.UTC())
	}
	return j
}

func deadLetterDocument(dl *domain.DeadLetterJob) document {
	d := toDocument(&dl.Job)
	failed := dl.FailedAt
	d.FailedAt = &failed
	return d
}

func historicDocument(h *domain.HistoricJob) document {
	d := toDocument(&h.Job)
	start, end := h.StartTime, h.EndTime
	d.StartTime, d.EndTime = &start, &end
	return d
}

func (d document) deadLetter() *domain.DeadLetterJob {
	out := &domain.DeadLetterJob{Job: *d.job()}
	if d.FailedAt != nil {
		out.FailedAt = d.FailedAt.UTC()
	}
	return out
}

func (d document) historic() *domain.HistoricJob {
	out := &domain.HistoricJob{Job: *d.job()}
	if d.StartTime != nil {
		out.StartTime = d.StartTime.UTC()
	}
	if d.EndTime != nil {
		out.EndTime = d.EndTime.UTC()
	}
	return out
}
