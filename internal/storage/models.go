package storage

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Policy is a relational policy row. Rows are created and mutated by
// the external policy-management system; this service only reads them.
type Policy struct {
	ID               int64
	UserID           int64
	PolicyName       string
	PolicyNumber     string
	InsuranceCompany string
	PolicyType       string
	PremiumAmount    float64
	PremiumFrequency string
	CoverageAmount   float64
	Status           string
	StartDate        string
	EndDate          string
	Notes            string
	Documents        []string
}

// Summary renders the relational fields as one free-text metadata
// document. The same text is stored during ingestion (under
// policy_meta_{id}) and synthesized fresh at query time.
func (p Policy) Summary() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Policy %q (number %s) issued by %s.", p.PolicyName, p.PolicyNumber, p.InsuranceCompany)
	if p.PolicyType != "" {
		fmt.Fprintf(&sb, " Type: %s.", p.PolicyType)
	}
	if p.PremiumAmount > 0 {
		fmt.Fprintf(&sb, " Premium: %.2f %s.", p.PremiumAmount, p.PremiumFrequency)
	}
	if p.CoverageAmount > 0 {
		fmt.Fprintf(&sb, " Coverage amount: %.2f.", p.CoverageAmount)
	}
	if p.Status != "" {
		fmt.Fprintf(&sb, " Status: %s.", p.Status)
	}
	if p.StartDate != "" {
		fmt.Fprintf(&sb, " Start date: %s.", p.StartDate)
	}
	if p.EndDate != "" {
		fmt.Fprintf(&sb, " End date: %s.", p.EndDate)
	}
	if p.Notes != "" {
		fmt.Fprintf(&sb, " Notes: %s", p.Notes)
	}
	return sb.String()
}
