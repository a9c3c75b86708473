package extract

import (
	"fmt"
	"strings"
	"time"

	"github.com/roach88/crmsync/internal/model"
)

// Assemble builds entities for res from its participants and, when present,
// the analysis.
//
// Every participant with an email becomes a contact; every participant
// domain that is not a public mailbox provider becomes a company. The
// primary company is the first one in participant order. The primary
// contact is the first participant who is not the sender, or the sender
// when nobody else is named.
func Assemble(res model.Resource, a *Analysis) *model.StructuredEntities {
	participants := uniqueParticipants(res.Participants)
	senderEmail := ""
	if s, ok := res.Sender(); ok {
		senderEmail = model.NormalizeEmail(s.Email)
	}

	var date *time.Time
	if !res.ContextDate.IsZero() {
		d := res.ContextDate.UTC()
		date = &d
	}

	ents := &model.StructuredEntities{}
	companyIndex := map[string]int{}
	for _, p := range participants {
		domain := model.EmailDomain(p.Email)
		if domain == "" || model.IsPublicDomain(domain) {
			continue
		}
		idx, seen := companyIndex[domain]
		if !seen {
			idx = len(ents.Companies)
			companyIndex[domain] = idx
			ents.Companies = append(ents.Companies, model.CompanyEntity{Domain: domain})
		}
		if a != nil && a.CompanyDetails != nil && model.NormalizeEmail(p.Email) == senderEmail {
			applyCompanyDetails(&ents.Companies[idx], a.CompanyDetails)
		}
	}

	primaryContact := ""
	for _, p := range participants {
		email := model.NormalizeEmail(p.Email)
		first, last := splitName(p.Name)
		c := model.ContactEntity{Email: email, FirstName: first, LastName: last}
		if domain := model.EmailDomain(email); domain != "" {
			if _, ok := companyIndex[domain]; ok {
				c.CompanyDomain = domain
			}
		}
		if a != nil && a.SenderInfo != nil && email == senderEmail {
			c.Title = a.SenderInfo.Title
			c.Background = a.SenderInfo.Background
			c.LinkedInURL = a.SenderInfo.LinkedInURL
			c.Gender = a.SenderInfo.Gender
			c.Phone = a.SenderInfo.Phone
		}
		ents.Contacts = append(ents.Contacts, c)
		if primaryContact == "" && email != senderEmail {
			primaryContact = email
		}
	}
	if primaryContact == "" && len(ents.Contacts) > 0 {
		primaryContact = ents.Contacts[0].Email
	}

	for _, c := range ents.Contacts {
		ents.Activities = append(ents.Activities, model.ActivityEntity{
			Kind:         model.ActivityContactNote,
			ContactEmail: c.Email,
			Text:         contactNote(res.Subject, a, c.Email == senderEmail),
			Date:         date,
		})
	}

	primaryCompany := ""
	if len(ents.Companies) > 0 {
		primaryCompany = ents.Companies[0].Domain
	}
	if a == nil {
		return ents
	}

	if primaryCompany != "" {
		ents.Activities = append(ents.Activities, model.ActivityEntity{
			Kind:          model.ActivityCompanyNote,
			CompanyDomain: primaryCompany,
			Text:          companyNote(res.Subject, a, len(ents.Contacts)),
			Date:          date,
		})
	}

	if primaryContact != "" {
		for _, t := range a.SuggestedTasks {
			if strings.TrimSpace(t.Description) == "" {
				continue
			}
			ents.Tasks = append(ents.Tasks, model.TaskEntity{
				ContactEmail: primaryContact,
				Description:  t.Description,
				DueDate:      t.DueDate,
				Priority:     t.Priority,
				Status:       t.Status,
			})
		}
	}

	if a.DealInfo != nil && a.Intent.SalesRelated() && primaryCompany != "" && strings.TrimSpace(a.DealInfo.Name) != "" {
		deal := model.DealEntity{
			Name:          a.DealInfo.Name,
			CompanyDomain: primaryCompany,
			Stage:         a.DealInfo.Stage,
			Category:      a.DealInfo.Category,
			Description:   a.DealInfo.Description,
		}
		if a.DealInfo.Amount != nil {
			deal.Amount = *a.DealInfo.Amount
		}
		for _, c := range ents.Contacts {
			deal.ContactEmails = append(deal.ContactEmails, c.Email)
		}
		ents.Deals = append(ents.Deals, deal)
	}
	return ents
}

func uniqueParticipants(in []model.Participant) []model.Participant {
	seen := map[string]bool{}
	out := make([]model.Participant, 0, len(in))
	for _, p := range in {
		email := model.NormalizeEmail(p.Email)
		if !strings.Contains(email, "@") || seen[email] {
			continue
		}
		seen[email] = true
		out = append(out, p)
	}
	return out
}

// splitName splits a display name at the first space.
func splitName(name string) (first, last string) {
	name = strings.Join(strings.Fields(strings.Trim(name, `"' `)), " ")
	if name == "" {
		return "", ""
	}
	first, last, _ = strings.Cut(name, " ")
	return first, last
}

func applyCompanyDetails(c *model.CompanyEntity, d *CompanyDetails) {
	c.Name = d.Name
	c.Sector = d.Sector
	c.Size = d.Size
	c.Revenue = d.Revenue
	c.Description = d.Description
	c.LinkedInURL = d.LinkedInURL
	c.Address = d.Address
	c.City = d.City
	c.StateAbbr = d.StateAbbr
	c.Zipcode = d.Zipcode
	c.Country = d.Country
	c.PhoneNumber = d.PhoneNumber
	c.TaxIdentifier = d.TaxIdentifier
}

func contactNote(subject string, a *Analysis, fromSender bool) string {
	var b strings.Builder
	if fromSender {
		b.WriteString("**Email Sent**\n\n")
	} else {
		b.WriteString("**Email Received**\n\n")
	}
	fmt.Fprintf(&b, "Subject: %s", subject)
	if a != nil {
		fmt.Fprintf(&b, "\n\n**Sentiment**: %s | **Intent**: %s", a.Sentiment, a.Intent)
		if s := strings.TrimSpace(a.Summary); s != "" {
			b.WriteString("\n\n" + s)
		}
	}
	return b.String()
}

func companyNote(subject string, a *Analysis, contacts int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**Email Activity**\n\nSubject: %s\n\nParticipants: %d contacts", subject, contacts)
	if s := strings.TrimSpace(a.Summary); s != "" {
		b.WriteString("\n\n" + s)
	}
	return b.String()
}
