package domain

import (
	"errors"
	"testing"
	"time"
)

func TestFilterValidate(t *testing.T) {
	tests := []struct {
		name string
		f    Filter
		set  RecordSet
		ok   bool
	}{
		{name: "zero", set: SetJobs, ok: true},
		{name: "negative limit", f: Filter{Limit: -1}, set: SetJobs},
		{name: "tenant and without tenant", f: Filter{TenantID: "a", WithoutTenantID: true}, set: SetJobs},
		{name: "lease on historic", f: Filter{Lease: LeaseLocked}, set: SetHistoric},
		{name: "lease on jobs", f: Filter{Lease: LeaseUnlocked}, set: SetJobs, ok: true},
		{name: "end time on jobs", f: Filter{SortBy: SortByEndTime}, set: SetJobs},
		{name: "end time on dead letters", f: Filter{SortBy: SortByEndTime}, set: SetDeadLetters, ok: true},
		{name: "start time on dead letters", f: Filter{SortBy: SortByStartTime}, set: SetDeadLetters},
		{name: "start time on historic", f: Filter{SortBy: SortByStartTime}, set: SetHistoric, ok: true},
		{name: "unknown key", f: Filter{SortBy: "priority"}, set: SetJobs},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.f.Validate(tt.set)
			if tt.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrInvalidFilter) {
				t.Fatalf("got %v, want ErrInvalidFilter", err)
			}
		})
	}
}

func TestFilterMatch(t *testing.T) {
	leased := &Job{ID: "a", TenantID: "acme-eu", ExecutionID: "e1", HandlerType: "timer"}
	leased.Lease("n", t0)
	free := &Job{ID: "b", ProcessDefinitionID: "def"}

	tests := []struct {
		name string
		f    Filter
		want []string
	}{
		{name: "all", want: []string{"a", "b"}},
		{name: "by id", f: Filter{ID: "b"}, want: []string{"b"}},
		{name: "by ids", f: Filter{IDs: []string{"a", "z"}}, want: []string{"a"}},
		{name: "tenant prefix", f: Filter{TenantIDPrefix: "acme"}, want: []string{"a"}},
		{name: "without tenant", f: Filter{WithoutTenantID: true}, want: []string{"b"}},
		{name: "definition", f: Filter{ProcessDefinitionID: "def"}, want: []string{"b"}},
		{name: "execution", f: Filter{ExecutionID: "e1"}, want: []string{"a"}},
		{name: "handler type", f: Filter{HandlerType: "timer"}, want: []string{"a"}},
		{name: "locked", f: Filter{Lease: LeaseLocked}, want: []string{"a"}},
		{name: "unlocked", f: Filter{Lease: LeaseUnlocked}, want: []string{"b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			for _, j := range []*Job{leased, free} {
				if tt.f.Match(j) {
					got = append(got, j.ID)
				}
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("got %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestSelect_SortsAndPages(t *testing.T) {
	hist := []*HistoricJob{
		{Job: Job{ID: "1", TenantID: "b"}, StartTime: t0, EndTime: t0.Add(3 * time.Second)},
		{Job: Job{ID: "2", TenantID: "a"}, StartTime: t0.Add(time.Second), EndTime: t0.Add(time.Second)},
		{Job: Job{ID: "3", TenantID: "c"}, StartTime: t0.Add(2 * time.Second), EndTime: t0.Add(2 * time.Second)},
	}

	tests := []struct {
		name string
		f    Filter
		want []string
	}{
		{name: "default end time", want: []string{"2", "3", "1"}},
		{name: "start time desc", f: Filter{SortBy: SortByStartTime, Descending: true}, want: []string{"3", "2", "1"}},
		{name: "tenant", f: Filter{SortBy: SortByTenantID}, want: []string{"2", "1", "3"}},
		{name: "paged", f: Filter{Offset: 1, Limit: 1}, want: []string{"3"}},
		{name: "offset past end", f: Filter{Offset: 5}, want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Select(hist, tt.f, SetHistoric, HistoricFields)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d records, want %v", len(got), tt.want)
			}
			for i, h := range got {
				if h.ID != tt.want[i] {
					t.Fatalf("position %d: got %s, want %s", i, h.ID, tt.want[i])
				}
			}
		})
	}
}
