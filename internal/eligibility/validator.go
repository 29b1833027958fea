// Package eligibility decides whether a loan qualifies under a lender matrix
// and explains how to fix it when it does not.
package eligibility

import (
	"fmt"
	"math"
	"strings"

	"github.com/opensource-finance/loanpricer/internal/domain"
	"github.com/opensource-finance/loanpricer/internal/matrix"
)

// Finding codes.
const (
	CodeStateExcluded          = "STATE_EXCLUDED"
	CodePropertyValueBelowMin  = "PROPERTY_VALUE_BELOW_MIN"
	CodeLTVExceedsMax          = "LTV_EXCEEDS_MAX"
	CodeDSCRBelowMin           = "DSCR_BELOW_MIN"
	CodePropertyTypeFivePlus   = "PROPERTY_TYPE_5PLUS"
	CodePropertyTypeIneligible = "PROPERTY_TYPE_INELIGIBLE"
	CodeFICOBelowMin           = "FICO_BELOW_MIN"
	CodeFICOBelowRefinanceMin  = "FICO_BELOW_REFINANCE_MIN"
	CodeLoanAmountBelowMin     = "LOAN_AMOUNT_BELOW_MIN"
	CodeLoanAmountAboveMax     = "LOAN_AMOUNT_ABOVE_MAX"

	CodeStateZeroPrepay       = "STATE_ZERO_PREPAY"
	CodeStatePrepayNotAllowed = "STATE_PREPAY_NOT_ALLOWED"
	CodeStatePrepayForbidden  = "STATE_PREPAY_FORBIDDEN"
	CodePurposeFICOBelowMin   = "PURPOSE_FICO_BELOW_MIN"
	CodePrepayRequirements    = "PREPAY_REQUIREMENTS_NOT_MET"
	CodeRuleLTVExceedsMax     = "RULE_LTV_EXCEEDS_MAX"
	CodeProductIORestricted   = "PRODUCT_IO_RESTRICTED"
	CodeRateNotice            = "RATE_NOTICE"
)

// Finding categories.
const (
	CategoryState       = "state"
	CategoryProperty    = "property"
	CategoryLTV         = "ltv"
	CategoryDSCR        = "dscr"
	CategoryBorrower    = "borrower"
	CategoryLoanAmount  = "loanAmount"
	CategoryLoanPurpose = "loanPurpose"
	CategoryPrepayment  = "prepayment"
	CategoryProduct     = "product"
	CategoryRate        = "rate"
)

// Validate runs the scalar checks then every rule category, in order.
// Warnings never affect validity.
func Validate(c *matrix.Compiled, in *domain.LoanInput) domain.ValidationResult {
	findings := ScalarChecks(c, in)
	findings = append(findings, RuleChecks(c, in)...)
	return domain.NewValidationResult(findings)
}

// ScalarChecks applies the matrix's threshold requirements.
func ScalarChecks(c *matrix.Compiled, in *domain.LoanInput) []domain.Finding {
	var out []domain.Finding
	doc := c.Doc
	state := matrix.NormalizeState(in.PropertyState)
	propertyValue := in.EffectivePropertyValue()

	if c.ExcludedStates[state] {
		out = append(out, domain.Finding{
			Code:        CodeStateExcluded,
			Severity:    domain.SeverityError,
			Category:    CategoryState,
			Message:     fmt.Sprintf("Properties in %s are not eligible for this program.", state),
			Remediation: fmt.Sprintf("Choose a lender or program that lends in %s.", state),
		})
	}

	if minValue := doc.PropertyRequirements.MinValue; minValue > 0 && propertyValue < minValue {
		out = append(out, domain.Finding{
			Code:        CodePropertyValueBelowMin,
			Severity:    domain.SeverityError,
			Category:    CategoryProperty,
			Message:     fmt.Sprintf("Property value %s is below the %s minimum.", money(propertyValue), money(minValue)),
			Remediation: fmt.Sprintf("The property value must be %s higher to qualify.", moneyUp(minValue-propertyValue)),
		})
	}

	if maxLTV := doc.LoanTerms.MaxLTV; maxLTV > 0 && in.LTV > maxLTV {
		out = append(out, ltvFinding(CodeLTVExceedsMax, "", in, maxLTV,
			fmt.Sprintf("LTV of %s exceeds the maximum of %s.", pct(in.LTV), pct(maxLTV))))
	}

	if minDSCR := doc.PropertyRequirements.DSCRMin; minDSCR > 0 && in.DSCR < minDSCR {
		out = append(out, domain.Finding{
			Code:        CodeDSCRBelowMin,
			Severity:    domain.SeverityError,
			Category:    CategoryDSCR,
			Message:     fmt.Sprintf("DSCR of %s is below the minimum of %s.", num(in.DSCR), num(minDSCR)),
			Remediation: dscrRemedy(in, minDSCR),
		})
	}

	out = append(out, propertyTypeFindings(c, in)...)

	br := doc.BorrowerRequirements
	if br.MinFico > 0 && in.FICO < br.MinFico {
		out = append(out, domain.Finding{
			Code:        CodeFICOBelowMin,
			Severity:    domain.SeverityError,
			Category:    CategoryBorrower,
			Message:     fmt.Sprintf("FICO score %s is below the program minimum of %s.", num(in.FICO), num(br.MinFico)),
			Remediation: fmt.Sprintf("The borrower needs %s more FICO points.", points(br.MinFico-in.FICO)),
		})
	}
	if br.MinFicoRefinance > 0 && in.LoanPurpose.IsRefinance() && in.FICO < br.MinFicoRefinance {
		out = append(out, domain.Finding{
			Code:        CodeFICOBelowRefinanceMin,
			Severity:    domain.SeverityError,
			Category:    CategoryBorrower,
			Message:     fmt.Sprintf("Refinances require a minimum FICO of %s; the borrower has %s.", num(br.MinFicoRefinance), num(in.FICO)),
			Remediation: fmt.Sprintf("The borrower needs %s more FICO points, or the loan must be a purchase.", points(br.MinFicoRefinance-in.FICO)),
		})
	}

	lt := doc.LoanTerms
	if lt.MinLoanAmount > 0 && in.LoanAmount < lt.MinLoanAmount {
		out = append(out, domain.Finding{
			Code:        CodeLoanAmountBelowMin,
			Severity:    domain.SeverityError,
			Category:    CategoryLoanAmount,
			Message:     fmt.Sprintf("Loan amount %s is below the program minimum of %s.", money(in.LoanAmount), money(lt.MinLoanAmount)),
			Remediation: fmt.Sprintf("Increase the loan amount by %s.", moneyUp(lt.MinLoanAmount-in.LoanAmount)),
		})
	}
	if lt.MaxLoanAmount > 0 && in.LoanAmount > lt.MaxLoanAmount {
		out = append(out, domain.Finding{
			Code:        CodeLoanAmountAboveMax,
			Severity:    domain.SeverityError,
			Category:    CategoryLoanAmount,
			Message:     fmt.Sprintf("Loan amount %s exceeds the program maximum of %s.", money(in.LoanAmount), money(lt.MaxLoanAmount)),
			Remediation: fmt.Sprintf("Reduce the loan amount by %s.", moneyUp(in.LoanAmount-lt.MaxLoanAmount)),
		})
	}

	return out
}

func propertyTypeFindings(c *matrix.Compiled, in *domain.LoanInput) []domain.Finding {
	if matrix.IsFivePlusUnit(in.PropertyType, in.Units) {
		return []domain.Finding{{
			Code:        CodePropertyTypeFivePlus,
			Severity:    domain.SeverityError,
			Category:    CategoryProperty,
			Message:     "5+ unit multifamily properties are not eligible.",
			Remediation: "Submit the loan to a commercial multifamily program.",
		}}
	}

	label := strings.TrimSpace(in.PropertyType)
	if label != "" {
		// An empty list accepts any stated type.
		if len(c.EligibleTypes) == 0 {
			return nil
		}
		canonical := matrix.NormalizePropertyType(in.PropertyType)
		for _, t := range c.EligibleTypes {
			if strings.EqualFold(t, canonical) {
				return nil
			}
		}
	} else {
		label = "(none)"
	}

	remediation := "Provide the property type."
	if len(c.EligibleTypes) > 0 {
		remediation = fmt.Sprintf("Eligible property types: %s.", list(c.EligibleTypes))
	}
	return []domain.Finding{{
		Code:        CodePropertyTypeIneligible,
		Severity:    domain.SeverityError,
		Category:    CategoryProperty,
		Message:     fmt.Sprintf("Property type %s is not eligible.", label),
		Remediation: remediation,
	}}
}

// ltvFinding reports an LTV above maxLTV with the down payment needed to
// reach it. The stated LTV triggered the check, so the maximum loan is scaled
// from it rather than from a property value that may disagree.
func ltvFinding(code, ruleID string, in *domain.LoanInput, maxLTV float64, msg string) domain.Finding {
	maxLoan := in.LoanAmount
	if in.LTV > 0 {
		maxLoan = in.LoanAmount * maxLTV / in.LTV
	}
	extra := math.Max(in.LoanAmount-maxLoan, 0)
	return domain.Finding{
		Code:     code,
		Severity: domain.SeverityError,
		Category: CategoryLTV,
		RuleID:   ruleID,
		Message:  msg,
		Remediation: fmt.Sprintf("Increase the down payment by %s (maximum loan amount %s at %s LTV).",
			moneyUp(extra), money(maxLoan), pct(maxLTV)),
	}
}

// dscrRemedy computes the extra monthly rent that reaches the minimum DSCR,
// or the DSCR gap when rent is unknown.
func dscrRemedy(in *domain.LoanInput, target float64) string {
	if in.MonthlyRent > 0 && in.DSCR > 0 {
		debtService := in.MonthlyRent / in.DSCR
		extra := target*debtService - in.MonthlyRent
		return fmt.Sprintf("Increase monthly rental income by %s to reach a DSCR of %s.", moneyUp(extra), num(target))
	}
	return fmt.Sprintf("DSCR must increase by %s to reach %s.", num(target-in.DSCR), num(target))
}
