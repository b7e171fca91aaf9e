package api

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/SirClappington/jobexec/internal/domain"
)

// parseJobQuery reads the kind parameter in addition to the filter.
func parseJobQuery(q url.Values) (domain.Kind, domain.Filter, error) {
	kind, err := domain.ParseKind(q.Get("kind"))
	if err != nil {
		return "", domain.Filter{}, err
	}
	f, err := parseFilter(q)
	return kind, f, err
}

// parseFilter maps query parameters onto a domain.Filter. The record set
// decides later which combinations are valid.
func parseFilter(q url.Values) (domain.Filter, error) {
	f := domain.Filter{
		ID:                  q.Get("id"),
		ProcessDefinitionID: q.Get("process_definition_id"),
		ProcessInstanceID:   q.Get("process_instance_id"),
		ExecutionID:         q.Get("execution_id"),
		HandlerType:         q.Get("handler_type"),
		TenantID:            q.Get("tenant_id"),
		TenantIDPrefix:      q.Get("tenant_id_prefix"),
		SortBy:              domain.SortKey(q.Get("sort_by")),
	}
	if ids := q.Get("ids"); ids != "" {
		for _, id := range strings.Split(ids, ",") {
			if id = strings.TrimSpace(id); id != "" {
				f.IDs = append(f.IDs, id)
			}
		}
	}

	var err error
	if f.WithoutTenantID, err = parseBool(q, "without_tenant_id"); err != nil {
		return f, err
	}
	switch q.Get("lease") {
	case "":
	case "locked":
		f.Lease = domain.LeaseLocked
	case "unlocked":
		f.Lease = domain.LeaseUnlocked
	default:
		return f, fmt.Errorf("%w: lease must be locked or unlocked", domain.ErrInvalidFilter)
	}
	switch q.Get("order") {
	case "", "asc":
	case "desc":
		f.Descending = true
	default:
		return f, fmt.Errorf("%w: order must be asc or desc", domain.ErrInvalidFilter)
	}
	if f.Limit, err = parseInt(q, "limit"); err != nil {
		return f, err
	}
	if f.Offset, err = parseInt(q, "offset"); err != nil {
		return f, err
	}
	return f, nil
}

func parseBool(q url.Values, key string) (bool, error) {
	v := q.Get(key)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%w: %s must be a boolean", domain.ErrInvalidFilter, key)
	}
	return b, nil
}

func parseInt(q url.Values, key string) (int, error) {
	v := q.Get(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", domain.ErrInvalidFilter, key)
	}
	return n, nil
}
