package domain

import (
	"sort"
	"strings"
	"time"
)

// RecordSet identifies which collection a Filter is evaluated against.
type RecordSet int

const (
	SetJobs RecordSet = iota
	SetDeadLetters
	SetHistoric
)

// LeaseState restricts a job query to locked or unlocked jobs.
type LeaseState int

const (
	LeaseAny LeaseState = iota
	LeaseLocked
	LeaseUnlocked
)

// SortKey names an ordering for list queries.
type SortKey string

const (
	SortByID         SortKey = "id"
	SortByDueDate    SortKey = "due_date"
	SortByCreateTime SortKey = "create_time"
	SortByStartTime  SortKey = "start_time"
	SortByEndTime    SortKey = "end_time"
	SortByTenantID   SortKey = "tenant_id"
)

// Filter is an immutable query. Stores read it and never
// modify it; the zero value matches everything.
type Filter struct {
	ID                  string
	IDs                 []string
	ProcessDefinitionID string
	ProcessInstanceID   string
	ExecutionID         string
	HandlerType         string
	TenantID            string
	TenantIDPrefix      string
	WithoutTenantID     bool
	Lease               LeaseState

	SortBy     SortKey
	Descending bool
	Limit      int
	Offset     int
}

// Validate reports whether f can be evaluated against set.
func (f Filter) Validate(set RecordSet) error {
	if f.Limit < 0 || f.Offset < 0 {
		return invalidFilter("limit and offset must not be negative")
	}
	if f.WithoutTenantID && (f.TenantID != "" || f.TenantIDPrefix != "") {
		return invalidFilter("without tenant id conflicts with a tenant id filter")
	}
	if f.Lease != LeaseAny && set != SetJobs {
		return invalidFilter("lease state only applies to jobs")
	}
	if f.Lease < LeaseAny || f.Lease > LeaseUnlocked {
		return invalidFilter("unknown lease state")
	}
	switch f.SortBy {
	case "", SortByID, SortByDueDate, SortByCreateTime, SortByTenantID:
	case SortByEndTime:
		if set == SetJobs {
			return invalidFilter("jobs cannot be sorted by end time")
		}
	case SortByStartTime:
		if set != SetHistoric {
			return invalidFilter("only historic jobs can be sorted by start time")
		}
	default:
		return invalidFilter("unknown sort key " + string(f.SortBy))
	}
	return nil
}

// Sort returns the effective sort key for set.
func (f Filter) Sort(set RecordSet) SortKey {
	if f.SortBy != "" {
		return f.SortBy
	}
	if set == SetJobs {
		return SortByDueDate
	}
	return SortByEndTime
}

// Match reports whether j satisfies every predicate of f.
func (f Filter) Match(j *Job) bool {
	if f.ID != "" && j.ID != f.ID {
		return false
	}
	if len(f.IDs) > 0 && !contains(f.IDs, j.ID) {
		return false
	}
	if f.ProcessDefinitionID != "" && j.ProcessDefinitionID != f.ProcessDefinitionID {
		return false
	}
	if f.ProcessInstanceID != "" && j.ProcessInstanceID != f.ProcessInstanceID {
		return false
	}
	if f.ExecutionID != "" && j.ExecutionID != f.ExecutionID {
		return false
	}
	if f.HandlerType != "" && j.HandlerType != f.HandlerType {
		return false
	}
	if f.TenantID != "" && j.TenantID != f.TenantID {
		return false
	}
	if f.TenantIDPrefix != "" && !strings.HasPrefix(j.TenantID, f.TenantIDPrefix) {
		return false
	}
	if f.WithoutTenantID && j.TenantID != "" {
		return false
	}
	switch f.Lease {
	case LeaseLocked:
		return j.Leased()
	case LeaseUnlocked:
		return !j.Leased()
	}
	return true
}

// SortFields are the values a record exposes for ordering.
type SortFields struct {
	ID         string
	TenantID   string
	DueDate    time.Time
	CreateTime time.Time
	StartTime  time.Time
	EndTime    time.Time
}

func compareBy(key SortKey, a, b SortFields) int {
	switch key {
	case SortByDueDate:
		return a.DueDate.Compare(b.DueDate)
	case SortByCreateTime:
		return a.CreateTime.Compare(b.CreateTime)
	case SortByStartTime:
		return a.StartTime.Compare(b.StartTime)
	case SortByEndTime:
		return a.EndTime.Compare(b.EndTime)
	case SortByTenantID:
		return strings.Compare(a.TenantID, b.TenantID)
	}
	return 0
}

// Select applies f to items held in memory: filter, sort, then page.
// view exposes the job and its sort fields for each item.
func Select[T any](items []T, f Filter, set RecordSet, view func(T) (*Job, SortFields)) []T {
	out := make([]T, 0, len(items))
	for _, it := range items {
		if j, _ := view(it); f.Match(j) {
			out = append(out, it)
		}
	}

	key := f.Sort(set)
	sort.SliceStable(out, func(a, b int) bool {
		_, fa := view(out[a])
		_, fb := view(out[b])
		c := compareBy(key, fa, fb)
		if c == 0 {
			c = strings.Compare(fa.ID, fb.ID)
		}
		if f.Descending {
			return c > 0
		}
		return c < 0
	})

	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return out[:0]
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}

// JobFields returns the sort fields of a live job.
func JobFields(j *Job) (*Job, SortFields) {
	return j, SortFields{ID: j.ID, TenantID: j.TenantID, DueDate: j.DueDate, CreateTime: j.CreateTime}
}

// DeadLetterFields returns the sort fields of a dead-letter job.
func DeadLetterFields(d *DeadLetterJob) (*Job, SortFields) {
	_, s := JobFields(&d.Job)
	s.EndTime = d.FailedAt
	return &d.Job, s
}

// HistoricFields returns the sort fields of a historic job.
func HistoricFields(h *HistoricJob) (*Job, SortFields) {
	_, s := JobFields(&h.Job)
	s.StartTime = h.StartTime
	s.EndTime = h.EndTime
	return &h.Job, s
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
