package storage

import (
	"fmt"
	"strings"

	"github.com/SirClappington/jobexec/internal/domain"
)

// sortColumns maps sort keys to columns per record set.
var sortColumns = map[domain.RecordSet]map[domain.SortKey]string{
	domain.SetJobs: {
		domain.SortByID:         "id",
		domain.SortByDueDate:    "due_date",
		domain.SortByCreateTime: "create_time",
		domain.SortByTenantID:   "tenant_id",
	},
	domain.SetDeadLetters: {
		domain.SortByID:         "id",
		domain.SortByDueDate:    "due_date",
		domain.SortByCreateTime: "create_time",
		domain.SortByTenantID:   "tenant_id",
		domain.SortByEndTime:    "failed_at",
	},
	domain.SetHistoric: {
		domain.SortByID:         "id",
		domain.SortByDueDate:    "due_date",
		domain.SortByCreateTime: "create_time",
		domain.SortByTenantID:   "tenant_id",
		domain.SortByStartTime:  "start_time",
		domain.SortByEndTime:    "end_time",
	},
}

// buildQuery appends the filter, ordering and paging of f to base.
func buildQuery(base string, f domain.Filter, set domain.RecordSet) (string, []any, error) {
	if err := f.Validate(set); err != nil {
		return "", nil, err
	}
	where, args := whereClause(f)

	dir := "asc"
	if f.Descending {
		dir = "desc"
	}
	col := sortColumns[set][f.Sort(set)]
	q := fmt.Sprintf("%s%s order by %s %s, id %s", base, where, col, dir, dir)

	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(" limit $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		q += fmt.Sprintf(" offset $%d", len(args))
	}
	return q, args, nil
}

func whereClause(f domain.Filter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.ID != "" {
		add("id = $%d", f.ID)
	}
	if len(f.IDs) > 0 {
		add("id = any($%d)", f.IDs)
	}
	if f.ProcessDefinitionID != "" {
		add("process_definition_id = $%d", f.ProcessDefinitionID)
	}
	if f.ProcessInstanceID != "" {
		add("process_instance_id = $%d", f.ProcessInstanceID)
	}
	if f.ExecutionID != "" {
		add("execution_id = $%d", f.ExecutionID)
	}
	if f.HandlerType != "" {
		add("handler_type = $%d", f.HandlerType)
	}
	if f.TenantID != "" {
		add("tenant_id = $%d", f.TenantID)
	}
	if f.TenantIDPrefix != "" {
		add(`tenant_id like $%d escape '\'`, likePrefix(f.TenantIDPrefix))
	}
	if f.WithoutTenantID {
		conds = append(conds, "tenant_id = ''")
	}
	switch f.Lease {
	case domain.LeaseLocked:
		conds = append(conds, "lock_owner is not null")
	case domain.LeaseUnlocked:
		conds = append(conds, "lock_owner is null")
	}

	if len(conds) == 0 {
		return "", args
	}
	return " where " + strings.Join(conds, " and "), args
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func likePrefix(p string) string {
	return likeEscaper.Replace(p) + "%"
}
