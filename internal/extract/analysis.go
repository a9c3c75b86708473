package extract

import "strings"

// Sentiment is the emotional tone of a message.
type Sentiment string

const (
	SentimentPositive Sentiment = "Positive"
	SentimentNeutral  Sentiment = "Neutral"
	SentimentNegative Sentiment = "Negative"
)

// Intent is the primary goal of a message.
type Intent string

const (
	IntentDemo    Intent = "Demo"
	IntentSupport Intent = "Support"
	IntentSales   Intent = "Sales"
	IntentOther   Intent = "Other"
)

// SalesRelated reports whether the intent warrants a deal.
func (i Intent) SalesRelated() bool {
	return i == IntentSales || i == IntentDemo
}

// SenderInfo describes the person who sent the message.
type SenderInfo struct {
	Phone       string `json:"phone,omitempty" yaml:"phone,omitempty"`
	Title       string `json:"title,omitempty" yaml:"title,omitempty"`
	Company     string `json:"company,omitempty" yaml:"company,omitempty"`
	Background  string `json:"background,omitempty" yaml:"background,omitempty"`
	LinkedInURL string `json:"linkedin_url,omitempty" yaml:"linkedin_url,omitempty"`
	Gender      string `json:"gender,omitempty" yaml:"gender,omitempty"`
}

// CompanyDetails describes the sender's company.
type CompanyDetails struct {
	Name          string `json:"name" yaml:"name"`
	Sector        string `json:"sector,omitempty" yaml:"sector,omitempty"`
	Size          *int   `json:"size,omitempty" yaml:"size,omitempty"`
	Revenue       string `json:"revenue,omitempty" yaml:"revenue,omitempty"`
	Description   string `json:"description,omitempty" yaml:"description,omitempty"`
	Website       string `json:"website,omitempty" yaml:"website,omitempty"`
	LinkedInURL   string `json:"linkedin_url,omitempty" yaml:"linkedin_url,omitempty"`
	Address       string `json:"address,omitempty" yaml:"address,omitempty"`
	City          string `json:"city,omitempty" yaml:"city,omitempty"`
	StateAbbr     string `json:"stateAbbr,omitempty" yaml:"stateAbbr,omitempty"`
	Zipcode       string `json:"zipcode,omitempty" yaml:"zipcode,omitempty"`
	Country       string `json:"country,omitempty" yaml:"country,omitempty"`
	PhoneNumber   string `json:"phone_number,omitempty" yaml:"phone_number,omitempty"`
	TaxIdentifier string `json:"tax_identifier,omitempty" yaml:"tax_identifier,omitempty"`
}

// Merge fills the empty fields of c from other. Fields already set are kept.
func (c *CompanyDetails) Merge(other *CompanyDetails) {
	if other == nil {
		return
	}
	fill := func(dst *string, src string) {
		if strings.TrimSpace(*dst) == "" {
			*dst = src
		}
	}
	fill(&c.Name, other.Name)
	fill(&c.Sector, other.Sector)
	if c.Size == nil && other.Size != nil {
		n := *other.Size
		c.Size = &n
	}
	fill(&c.Revenue, other.Revenue)
	fill(&c.Description, other.Description)
	fill(&c.Website, other.Website)
	fill(&c.LinkedInURL, other.LinkedInURL)
	fill(&c.Address, other.Address)
	fill(&c.City, other.City)
	fill(&c.StateAbbr, other.StateAbbr)
	fill(&c.Zipcode, other.Zipcode)
	fill(&c.Country, other.Country)
	fill(&c.PhoneNumber, other.PhoneNumber)
	fill(&c.TaxIdentifier, other.TaxIdentifier)
}

// SuggestedTask is a follow-up derived from the message.
// DueDate is an ISO date grounded against the message date.
type SuggestedTask struct {
	Description string `json:"description" yaml:"description"`
	DueDate     string `json:"due_date,omitempty" yaml:"due_date,omitempty"`
	Priority    string `json:"priority,omitempty" yaml:"priority,omitempty"`
	Status      string `json:"status,omitempty" yaml:"status,omitempty"`
}

// DealInfo describes a potential sales opportunity.
type DealInfo struct {
	Name        string   `json:"name" yaml:"name"`
	Amount      *float64 `json:"amount,omitempty" yaml:"amount,omitempty"`
	Stage       string   `json:"stage,omitempty" yaml:"stage,omitempty"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Category    string   `json:"category,omitempty" yaml:"category,omitempty"`
}

// Analysis is the structured reading of one message.
type Analysis struct {
	Summary            string          `json:"summary" yaml:"summary"`
	Sentiment          Sentiment       `json:"sentiment" yaml:"sentiment"`
	Intent             Intent          `json:"intent" yaml:"intent"`
	SenderInfo         *SenderInfo     `json:"sender_info,omitempty" yaml:"sender_info,omitempty"`
	CompanyDetails     *CompanyDetails `json:"company_details,omitempty" yaml:"company_details,omitempty"`
	CompanySearchQuery string          `json:"company_search_query,omitempty" yaml:"company_search_query,omitempty"`
	SuggestedTasks     []SuggestedTask `json:"suggested_tasks,omitempty" yaml:"suggested_tasks,omitempty"`
	DealInfo           *DealInfo       `json:"deal_info,omitempty" yaml:"deal_info,omitempty"`
}

// NeedsEnrichment reports whether a company search should fill in missing
// company details.
func (a *Analysis) NeedsEnrichment() bool {
	if strings.TrimSpace(a.CompanySearchQuery) == "" {
		return false
	}
	return a.CompanyDetails == nil || strings.TrimSpace(a.CompanyDetails.Sector) == ""
}

// normalize canonicalizes enumerations the schema accepts case-insensitively.
func (a *Analysis) normalize() {
	a.Sentiment = Sentiment(canonical(string(a.Sentiment),
		string(SentimentPositive), string(SentimentNeutral), string(SentimentNegative)))
	a.Intent = Intent(canonical(string(a.Intent),
		string(IntentDemo), string(IntentSupport), string(IntentSales), string(IntentOther)))
	for i := range a.SuggestedTasks {
		a.SuggestedTasks[i].Priority = canonical(a.SuggestedTasks[i].Priority, "High", "Medium", "Low")
	}
}

func canonical(v string, known ...string) string {
	v = strings.TrimSpace(v)
	for _, k := range known {
		if strings.EqualFold(v, k) {
			return k
		}
	}
	return v
}
