package model

import (
	"sort"
	"strings"
)

// EntityType names a CRM record type that supports upsert.
type EntityType string

const (
	EntityCompany EntityType = "company"
	EntityContact EntityType = "contact"
)

// Valid reports whether t is a known upsertable type.
func (t EntityType) Valid() bool {
	return t == EntityCompany || t == EntityContact
}

// Attributes maps CRM field names to values.
// Only fields present in the map are sent on patch; absence never clears a
// remote field.
type Attributes map[string]any

// Keys returns the attribute names in sorted order.
func (a Attributes) Keys() []string {
	keys := make([]string, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a shallow copy of a.
func (a Attributes) Clone() Attributes {
	if a == nil {
		return nil
	}
	out := make(Attributes, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// setString stores v under key when v is non-blank.
func (a Attributes) setString(key, v string) {
	if v = strings.TrimSpace(v); v != "" {
		a[key] = v
	}
}

// EntityReference is a contact or company that may or may not already exist
// in the CRM.
//
// NaturalKey is the identity used for lookup (domain for companies, email for
// contacts). RemoteID stays empty until the entity is resolved or created.
//
// Attributes are sent on both create and patch. CreateDefaults fill gaps on
// create only (a company name derived from its domain, the identity email of
// a contact) and are never patched onto an existing record.
type EntityReference struct {
	Type           EntityType
	Attributes     Attributes
	CreateDefaults Attributes
	NaturalKey     string
	RemoteID       RemoteID
}

// CreateAttributes returns the payload for a create call: CreateDefaults
// overlaid by Attributes.
func (r EntityReference) CreateAttributes() Attributes {
	out := make(Attributes, len(r.Attributes)+len(r.CreateDefaults))
	for k, v := range r.CreateDefaults {
		out[k] = v
	}
	for k, v := range r.Attributes {
		out[k] = v
	}
	return out
}

// Validate fails when the reference cannot be upserted without risking an
// untraceable duplicate.
func (r EntityReference) Validate() error {
	if !r.Type.Valid() {
		return NewInvalidEntity(r.Type, "unknown entity type")
	}
	if strings.TrimSpace(r.NaturalKey) == "" {
		return NewInvalidEntity(r.Type, "natural key is empty")
	}
	return nil
}
