package mongostore

import (
	"regexp"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/SirClappington/jobexec/internal/domain"
)

var sortFields = map[domain.SortKey]string{
	domain.SortByID:         "_id",
	domain.SortByDueDate:    "dueDate",
	domain.SortByCreateTime: "createTime",
	domain.SortByTenantID:   "tenantId",
	domain.SortByStartTime:  "startTime",
	domain.SortByEndTime:    "endTime",
}

// toBSON translates f into a query document. f must already be validated.
func toBSON(f domain.Filter) bson.M {
	var conds []bson.M
	eq := func(field, v string) {
		if v != "" {
			conds = append(conds, bson.M{field: v})
		}
	}

	eq("_id", f.ID)
	if len(f.IDs) > 0 {
		conds = append(conds, bson.M{"_id": bson.M{"$in": f.IDs}})
	}
	eq("processDefinitionId", f.ProcessDefinitionID)
	eq("processInstanceId", f.ProcessInstanceID)
	eq("executionId", f.ExecutionID)
	eq("handlerType", f.HandlerType)
	eq("tenantId", f.TenantID)
	if f.TenantIDPrefix != "" {
		conds = append(conds, bson.M{"tenantId": bson.M{"$regex": "^" + regexp.QuoteMeta(f.TenantIDPrefix)}})
	}
	if f.WithoutTenantID {
		conds = append(conds, bson.M{"tenantId": ""})
	}
	switch f.Lease {
	case domain.LeaseLocked:
		conds = append(conds, bson.M{"lockOwner": bson.M{"$ne": nil}})
	case domain.LeaseUnlocked:
		conds = append(conds, bson.M{"lockOwner": nil})
	}

	if len(conds) == 0 {
		return bson.M{}
	}
	return bson.M{"$and": conds}
}

func findOptions(f domain.Filter, set domain.RecordSet) *options.FindOptions {
	field := sortFields[f.Sort(set)]
	if set == domain.SetDeadLetters && field == "endTime" {
		field = "failedAt"
	}
	dir := 1
	if f.Descending {
		dir = -1
	}
	sort := bson.D{{Key: field, Value: dir}}
	if field != "_id" {
		sort = append(sort, bson.E{Key: "_id", Value: dir})
	}
	opts := options.Find().SetSort(sort)
	if f.Offset > 0 {
		opts.SetSkip(int64(f.Offset))
	}
	if f.Limit > 0 {
		opts.SetLimit(int64(f.Limit))
	}
	return opts
}
