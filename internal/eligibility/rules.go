package eligibility

import (
	"fmt"
	"strings"

	"github.com/opensource-finance/loanpricer/internal/domain"
	"github.com/opensource-finance/loanpricer/internal/matrix"
)

// RuleChecks evaluates the six rule categories in order: state, loan
// purpose, prepayment penalty, DSCR/LTV, product, rate.
func RuleChecks(c *matrix.Compiled, in *domain.LoanInput) []domain.Finding {
	var out []domain.Finding
	out = append(out, stateRules(c.Rules.State, in)...)
	out = append(out, loanPurposeRules(c.Rules.LoanPurpose, in)...)
	out = append(out, prepaymentRules(c.Rules.Prepayment, in)...)
	out = append(out, dscrLTVRules(c.Rules.DSCRLTV, in)...)
	out = append(out, productRules(c.Rules.Product, in)...)
	out = append(out, rateRules(c.Rules.Rate, in)...)
	return out
}

func message(r *matrix.Rule, fallback string) string {
	if m := strings.TrimSpace(r.ErrorMessage); m != "" {
		return m
	}
	return fallback
}

func containsPrepay(list []string, structure string) bool {
	want := matrix.NormalizePrepay(structure)
	for _, s := range list {
		if matrix.NormalizePrepay(s) == want {
			return true
		}
	}
	return false
}

func prepayLabel(s string) string {
	if strings.TrimSpace(s) == "" {
		return "no prepay"
	}
	return s
}

// stateRules apply when the rule lists the property state and its
// condition holds. A zero-prepay requirement only warns.
func stateRules(rules []matrix.Rule, in *domain.LoanInput) []domain.Finding {
	var out []domain.Finding
	state := matrix.NormalizeState(in.PropertyState)

	for i := range rules {
		r := &rules[i]
		if !r.CoversState(state) || !r.Applies(in) {
			continue
		}

		if r.Requirements != nil && r.Requirements.ZeroPrepayRequired && !matrix.IsZeroPrepay(in.PrepayStructure) {
			out = append(out, domain.Finding{
				Code:        CodeStateZeroPrepay,
				Severity:    domain.SeverityWarning,
				Category:    CategoryState,
				RuleID:      r.RuleID,
				Message:     message(r, fmt.Sprintf("%s loans are expected to carry no prepayment penalty.", state)),
				Remediation: fmt.Sprintf("Consider a no-prepay structure instead of %s.", prepayLabel(in.PrepayStructure)),
			})
		}

		if r.Restrictions == nil {
			continue
		}
		if allowed := r.Restrictions.PrepayStructures; len(allowed) > 0 && !containsPrepay(allowed, in.PrepayStructure) {
			out = append(out, domain.Finding{
				Code:        CodeStatePrepayNotAllowed,
				Severity:    domain.SeverityError,
				Category:    CategoryState,
				RuleID:      r.RuleID,
				Message:     message(r, fmt.Sprintf("Prepay structure %s is not allowed in %s.", prepayLabel(in.PrepayStructure), state)),
				Remediation: fmt.Sprintf("Choose one of: %s.", list(allowed)),
			})
		}
		if forbidden := r.Restrictions.ForbiddenPrepayStructures; containsPrepay(forbidden, in.PrepayStructure) {
			out = append(out, domain.Finding{
				Code:        CodeStatePrepayForbidden,
				Severity:    domain.SeverityError,
				Category:    CategoryState,
				RuleID:      r.RuleID,
				Message:     message(r, fmt.Sprintf("Prepay structure %s is prohibited in %s.", prepayLabel(in.PrepayStructure), state)),
				Remediation: fmt.Sprintf("Choose a prepay structure other than %s.", list(forbidden)),
			})
		}
	}
	return out
}

func loanPurposeRules(rules []matrix.Rule, in *domain.LoanInput) []domain.Finding {
	var out []domain.Finding
	for i := range rules {
		r := &rules[i]
		if !r.Applies(in) || r.Requirements == nil || r.Requirements.MinFico == nil {
			continue
		}
		minFico := *r.Requirements.MinFico
		if in.FICO >= minFico {
			continue
		}
		out = append(out, domain.Finding{
			Code:     CodePurposeFICOBelowMin,
			Severity: domain.SeverityError,
			Category: CategoryLoanPurpose,
			RuleID:   r.RuleID,
			Message: message(r, fmt.Sprintf("%s loans require a minimum FICO of %s.",
				purposeLabel(in.LoanPurpose), num(minFico))),
			Remediation: fmt.Sprintf("FICO must increase by %s points (from %s to %s).",
				points(minFico-in.FICO), num(in.FICO), num(minFico)),
		})
	}
	return out
}

// prepaymentRules combine every unmet requirement of a matching rule into
// a single error.
func prepaymentRules(rules []matrix.Rule, in *domain.LoanInput) []domain.Finding {
	var out []domain.Finding
	for i := range rules {
		r := &rules[i]
		if !r.Applies(in) {
			continue
		}

		var unmet []string
		if req := r.Requirements; req != nil {
			if products := requiredProducts(req); len(products) > 0 && !containsFold(products, in.Product) {
				unmet = append(unmet, fmt.Sprintf("product must be %s", strings.Join(products, " or ")))
			}
			if req.MinFico != nil && in.FICO < *req.MinFico {
				unmet = append(unmet, fmt.Sprintf("FICO must be at least %s (currently %s)", num(*req.MinFico), num(in.FICO)))
			}
		}
		if res := r.Restrictions; res != nil && res.InterestOnly != nil && !*res.InterestOnly && in.InterestOnly {
			unmet = append(unmet, "interest-only is not allowed")
		}
		if req := r.Requirements; req != nil && req.MinDSCR != nil && in.DSCR < *req.MinDSCR {
			unmet = append(unmet, fmt.Sprintf("DSCR must be at least %s (currently %s)", num(*req.MinDSCR), num(in.DSCR)))
		}

		if len(unmet) == 0 {
			continue
		}
		out = append(out, domain.Finding{
			Code:     CodePrepayRequirements,
			Severity: domain.SeverityError,
			Category: CategoryPrepayment,
			RuleID:   r.RuleID,
			Message: message(r, fmt.Sprintf("Prepay structure %s has requirements that are not met.",
				prepayLabel(in.PrepayStructure))),
			Remediation: fmt.Sprintf("Meet all requirements (%s) OR choose a different prepay structure.",
				strings.Join(unmet, "; ")),
		})
	}
	return out
}

func dscrLTVRules(rules []matrix.Rule, in *domain.LoanInput) []domain.Finding {
	var out []domain.Finding
	for i := range rules {
		r := &rules[i]
		if !r.Applies(in) || r.Requirements == nil || r.Requirements.MaxLTV == nil {
			continue
		}
		maxLTV := *r.Requirements.MaxLTV
		if in.LTV <= maxLTV {
			continue
		}
		out = append(out, ltvFinding(CodeRuleLTVExceedsMax, r.RuleID, in, maxLTV,
			message(r, fmt.Sprintf("LTV of %s exceeds the %s maximum for this DSCR.", pct(in.LTV), pct(maxLTV)))))
	}
	return out
}

func productRules(rules []matrix.Rule, in *domain.LoanInput) []domain.Finding {
	var out []domain.Finding
	for i := range rules {
		r := &rules[i]
		if !in.InterestOnly || !r.Applies(in) {
			continue
		}
		if r.Restrictions == nil || r.Restrictions.InterestOnly == nil || *r.Restrictions.InterestOnly {
			continue
		}
		out = append(out, domain.Finding{
			Code:        CodeProductIORestricted,
			Severity:    domain.SeverityError,
			Category:    CategoryProduct,
			RuleID:      r.RuleID,
			Message:     message(r, "Interest-only is not available for this loan."),
			Remediation: "Select an amortizing product.",
		})
	}
	return out
}

// rateRules are informational and always warn.
func rateRules(rules []matrix.Rule, in *domain.LoanInput) []domain.Finding {
	var out []domain.Finding
	for i := range rules {
		r := &rules[i]
		if !r.Applies(in) {
			continue
		}
		f := domain.Finding{
			Code:     CodeRateNotice,
			Severity: domain.SeverityWarning,
			Category: CategoryRate,
			RuleID:   r.RuleID,
			Message:  message(r, "Pricing for this loan is subject to additional rate terms."),
		}
		if r.Requirements != nil && r.Requirements.MinRate != nil {
			f.Remediation = fmt.Sprintf("Minimum note rate is %s.", pct(*r.Requirements.MinRate))
		}
		out = append(out, f)
	}
	return out
}

func requiredProducts(req *domain.Requirements) []string {
	var out []string
	if p := strings.TrimSpace(req.Product); p != "" {
		out = append(out, p)
	}
	for _, p := range req.Products {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func containsFold(list []string, s string) bool {
	s = strings.TrimSpace(s)
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

func purposeLabel(p domain.LoanPurpose) string {
	switch p {
	case domain.PurposePurchase:
		return "Purchase"
	case domain.PurposeRefinance:
		return "Rate/term refinance"
	case domain.PurposeCashOut:
		return "Cash-out refinance"
	}
	return string(p)
}
