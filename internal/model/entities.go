package model

import (
	"fmt"
	"strings"
	"time"
)

// Role is a participant's position in a resource (email headers).
type Role string

const (
	RoleSender Role = "from"
	RoleTo     Role = "to"
	RoleCc     Role = "cc"
	RoleBcc    Role = "bcc"
)

// Participant is a person named by a resource.
type Participant struct {
	Name  string `json:"name,omitempty" yaml:"name,omitempty"`
	Email string `json:"email" yaml:"email"`
	Role  Role   `json:"role" yaml:"role"`
}

// Resource is one input unit to synchronize.
//
// ID is stable per input (Message-ID or content hash). ContextDate is the
// document's own timestamp; the zero value means unknown.
type Resource struct {
	ID           string
	Subject      string
	Text         string
	ContextDate  time.Time
	Participants []Participant
}

// Sender returns the first participant with RoleSender.
func (r Resource) Sender() (Participant, bool) {
	for _, p := range r.Participants {
		if p.Role == RoleSender {
			return p, true
		}
	}
	return Participant{}, false
}

// CompanyEntity is an extracted company. Domain is required.
type CompanyEntity struct {
	Domain        string `json:"domain" yaml:"domain"`
	Name          string `json:"name,omitempty" yaml:"name,omitempty"`
	Sector        string `json:"sector,omitempty" yaml:"sector,omitempty"`
	Size          *int   `json:"size,omitempty" yaml:"size,omitempty"`
	Revenue       string `json:"revenue,omitempty" yaml:"revenue,omitempty"`
	Description   string `json:"description,omitempty" yaml:"description,omitempty"`
	LinkedInURL   string `json:"linkedin_url,omitempty" yaml:"linkedin_url,omitempty"`
	Address       string `json:"address,omitempty" yaml:"address,omitempty"`
	City          string `json:"city,omitempty" yaml:"city,omitempty"`
	StateAbbr     string `json:"state_abbr,omitempty" yaml:"state_abbr,omitempty"`
	Zipcode       string `json:"zipcode,omitempty" yaml:"zipcode,omitempty"`
	Country       string `json:"country,omitempty" yaml:"country,omitempty"`
	PhoneNumber   string `json:"phone_number,omitempty" yaml:"phone_number,omitempty"`
	TaxIdentifier string `json:"tax_identifier,omitempty" yaml:"tax_identifier,omitempty"`
}

// Key returns the normalized natural key.
func (c CompanyEntity) Key() string { return NormalizeDomain(c.Domain) }

// Reference converts the company into an upsertable reference carrying only
// the fields that were extracted.
func (c CompanyEntity) Reference() EntityReference {
	key := c.Key()
	attrs := Attributes{}
	attrs.setString("name", c.Name)
	attrs.setString("sector", c.Sector)
	if c.Size != nil {
		attrs["size"] = *c.Size
	}
	attrs.setString("revenue", c.Revenue)
	attrs.setString("description", c.Description)
	attrs.setString("linkedin_url", c.LinkedInURL)
	attrs.setString("address", c.Address)
	attrs.setString("city", c.City)
	attrs.setString("stateAbbr", c.StateAbbr)
	attrs.setString("zipcode", c.Zipcode)
	attrs.setString("country", c.Country)
	attrs.setString("phone_number", c.PhoneNumber)
	attrs.setString("tax_identifier", c.TaxIdentifier)
	defaults := Attributes{}
	defaults.setString("name", key)
	defaults.setString("website", key)
	return EntityReference{Type: EntityCompany, Attributes: attrs, CreateDefaults: defaults, NaturalKey: key}
}

// ContactEntity is an extracted contact. Email is required.
type ContactEntity struct {
	Email         string `json:"email" yaml:"email"`
	FirstName     string `json:"first_name,omitempty" yaml:"first_name,omitempty"`
	LastName      string `json:"last_name,omitempty" yaml:"last_name,omitempty"`
	Title         string `json:"title,omitempty" yaml:"title,omitempty"`
	Background    string `json:"background,omitempty" yaml:"background,omitempty"`
	LinkedInURL   string `json:"linkedin_url,omitempty" yaml:"linkedin_url,omitempty"`
	Gender        string `json:"gender,omitempty" yaml:"gender,omitempty"`
	Phone         string `json:"phone,omitempty" yaml:"phone,omitempty"`
	CompanyDomain string `json:"company_domain,omitempty" yaml:"company_domain,omitempty"`
}

// Key returns the normalized natural key.
func (c ContactEntity) Key() string { return NormalizeEmail(c.Email) }

// Reference converts the contact into an upsertable reference.
// companyID is attached as company_id when non-zero.
func (c ContactEntity) Reference(companyID RemoteID) EntityReference {
	key := c.Key()
	attrs := Attributes{}
	attrs.setString("first_name", c.FirstName)
	attrs.setString("last_name", c.LastName)
	attrs.setString("title", c.Title)
	attrs.setString("background", c.Background)
	attrs.setString("linkedin_url", c.LinkedInURL)
	attrs.setString("gender", c.Gender)
	if phone := strings.TrimSpace(c.Phone); phone != "" {
		attrs["phone_jsonb"] = []map[string]string{{"number": phone, "type": "Work"}}
	}
	if !companyID.IsZero() {
		attrs["company_id"] = companyID
	}
	defaults := Attributes{}
	if key != "" {
		defaults["email_jsonb"] = []map[string]string{{"email": key, "type": "Work"}}
	}
	return EntityReference{Type: EntityContact, Attributes: attrs, CreateDefaults: defaults, NaturalKey: key}
}

// ActivityKind distinguishes contact-level and company-level notes.
type ActivityKind string

const (
	ActivityContactNote ActivityKind = "contact_note"
	ActivityCompanyNote ActivityKind = "company_note"
)

// ActivityEntity is a note attached to a contact or company.
// Date is nil when the source carried no timestamp.
type ActivityEntity struct {
	Kind          ActivityKind `json:"kind" yaml:"kind"`
	ContactEmail  string       `json:"contact_email,omitempty" yaml:"contact_email,omitempty"`
	CompanyDomain string       `json:"company_domain,omitempty" yaml:"company_domain,omitempty"`
	Text          string       `json:"text" yaml:"text"`
	Date          *time.Time   `json:"date,omitempty" yaml:"date,omitempty"`
}

// TaskEntity is a follow-up for a contact.
type TaskEntity struct {
	ContactEmail string `json:"contact_email" yaml:"contact_email"`
	Description  string `json:"description" yaml:"description"`
	DueDate      string `json:"due_date,omitempty" yaml:"due_date,omitempty"`
	Priority     string `json:"priority,omitempty" yaml:"priority,omitempty"`
	Status       string `json:"status,omitempty" yaml:"status,omitempty"`
}

// DealEntity is a sales opportunity for a company.
type DealEntity struct {
	Name          string   `json:"name" yaml:"name"`
	CompanyDomain string   `json:"company_domain" yaml:"company_domain"`
	Amount        float64  `json:"amount,omitempty" yaml:"amount,omitempty"`
	Stage         string   `json:"stage,omitempty" yaml:"stage,omitempty"`
	Category      string   `json:"category,omitempty" yaml:"category,omitempty"`
	Description   string   `json:"description,omitempty" yaml:"description,omitempty"`
	ContactEmails []string `json:"contact_emails,omitempty" yaml:"contact_emails,omitempty"`
}

// StructuredEntities is the validated output of extraction.
// Companies are synchronized before contacts; activities, tasks and deals
// reference them by natural key.
type StructuredEntities struct {
	Companies  []CompanyEntity  `json:"companies,omitempty" yaml:"companies,omitempty"`
	Contacts   []ContactEntity  `json:"contacts,omitempty" yaml:"contacts,omitempty"`
	Activities []ActivityEntity `json:"activities,omitempty" yaml:"activities,omitempty"`
	Tasks      []TaskEntity     `json:"tasks,omitempty" yaml:"tasks,omitempty"`
	Deals      []DealEntity     `json:"deals,omitempty" yaml:"deals,omitempty"`
}

// Validate checks required fields on every variant.
func (s *StructuredEntities) Validate() error {
	if s == nil {
		return NewExtractionError("no entities extracted", nil)
	}
	for i, c := range s.Companies {
		if c.Key() == "" {
			return NewExtractionError(fmt.Sprintf("companies[%d]: domain is required", i), nil)
		}
	}
	for i, c := range s.Contacts {
		if c.Key() == "" {
			return NewExtractionError(fmt.Sprintf("contacts[%d]: email is required", i), nil)
		}
	}
	for i, a := range s.Activities {
		switch a.Kind {
		case ActivityContactNote:
			if NormalizeEmail(a.ContactEmail) == "" {
				return NewExtractionError(fmt.Sprintf("activities[%d]: contact_email is required", i), nil)
			}
		case ActivityCompanyNote:
			if NormalizeDomain(a.CompanyDomain) == "" {
				return NewExtractionError(fmt.Sprintf("activities[%d]: company_domain is required", i), nil)
			}
		default:
			return NewExtractionError(fmt.Sprintf("activities[%d]: unknown kind %q", i, a.Kind), nil)
		}
		if strings.TrimSpace(a.Text) == "" {
			return NewExtractionError(fmt.Sprintf("activities[%d]: text is required", i), nil)
		}
	}
	for i, t := range s.Tasks {
		if NormalizeEmail(t.ContactEmail) == "" || strings.TrimSpace(t.Description) == "" {
			return NewExtractionError(fmt.Sprintf("tasks[%d]: contact_email and description are required", i), nil)
		}
	}
	for i, d := range s.Deals {
		if strings.TrimSpace(d.Name) == "" || NormalizeDomain(d.CompanyDomain) == "" {
			return NewExtractionError(fmt.Sprintf("deals[%d]: name and company_domain are required", i), nil)
		}
	}
	return nil
}
