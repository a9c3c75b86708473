package crm

import (
	"log/slog"

	"github.com/roach88/crmsync/internal/model"
)

// Writable fields per record type. Anything else is dropped before a create
// or patch so unknown keys never reach the CRM.
var allowedFields = map[model.EntityType]map[string]bool{
	model.EntityCompany: set(
		"name", "sector", "size", "linkedin_url", "website", "phone_number",
		"address", "zipcode", "city", "stateAbbr", "sales_id", "context_links",
		"country", "description", "revenue", "tax_identifier",
	),
	model.EntityContact: set(
		"first_name", "last_name", "gender", "title", "background",
		"status", "tags", "company_id", "sales_id", "linkedin_url",
		"email_jsonb", "phone_jsonb", "has_newsletter",
	),
}

// resourcePaths maps a record type to its collection endpoint.
var resourcePaths = map[model.EntityType]string{
	model.EntityCompany: "/api-v1-companies",
	model.EntityContact: "/api-v1-contacts",
}

// searchParams maps a record type to the query parameter holding its
// natural key.
var searchParams = map[model.EntityType]string{
	model.EntityCompany: "website",
	model.EntityContact: "email",
}

const (
	activitiesPath = "/api-v1-activities"
	dealsPath      = "/api-v1-deals"
)

// FilterAttributes returns the subset of attrs the CRM accepts for t.
func FilterAttributes(t model.EntityType, attrs model.Attributes) model.Attributes {
	allowed := allowedFields[t]
	out := make(model.Attributes, len(attrs))
	for _, k := range attrs.Keys() {
		if allowed[k] {
			out[k] = attrs[k]
			continue
		}
		slog.Debug("dropping unsupported crm field", "type", t, "field", k)
	}
	return out
}

// ResourcePath returns the collection endpoint for t.
func ResourcePath(t model.EntityType) string { return resourcePaths[t] }

// SearchParam returns the query parameter used to look up t by natural key.
func SearchParam(t model.EntityType) string { return searchParams[t] }

func set(keys ...string) map[string]bool {
	m := make(map[string]bool, len(keys))
	for _, k := range keys {
		m[k] = true
	}
	return m
}
