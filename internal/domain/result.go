package domain

// Severity classifies a validation finding.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Finding is one structured eligibility outcome.
type Finding struct {
	Code        string   `json:"code"`
	Severity    Severity `json:"severity"`
	Category    string   `json:"category"`
	RuleID      string   `json:"ruleId,omitempty"`
	Message     string   `json:"message"`
	Remediation string   `json:"remediation,omitempty"`
}

// Display joins the message and its remediation for UI display.
func (f Finding) Display() string {
	if f.Remediation == "" {
		return f.Message
	}
	return f.Message + " " + f.Remediation
}

// ValidationResult is the eligibility verdict for one matrix.
// IsValid is true exactly when Errors is empty.
type ValidationResult struct {
	IsValid  bool      `json:"isValid"`
	Errors   []string  `json:"errors"`
	Warnings []string  `json:"warnings"`
	Findings []Finding `json:"findings,omitempty"`
}

// NewValidationResult builds a verdict from findings in order.
func NewValidationResult(findings []Finding) ValidationResult {
	res := ValidationResult{
		Errors:   []string{},
		Warnings: []string{},
		Findings: findings,
	}
	for _, f := range findings {
		if f.Severity == SeverityError {
			res.Errors = append(res.Errors, f.Display())
		} else {
			res.Warnings = append(res.Warnings, f.Display())
		}
	}
	res.IsValid = len(res.Errors) == 0
	return res
}

// Adjustments attributes the final rate to its sources.
type Adjustments struct {
	Product        float64 `json:"product"`
	InterestOnly   float64 `json:"interestOnly"`
	DSCR           float64 `json:"dscr"`
	Program        float64 `json:"program"`
	OriginationFee float64 `json:"originationFee"`
	LoanSize       float64 `json:"loanSize"`
	Total          float64 `json:"total"`
	FloorApplied   bool    `json:"floorApplied"`
}

// Points breaks down the point cost.
type Points struct {
	YSP      float64 `json:"ysp"`
	Prepay   float64 `json:"prepay"`
	Discount float64 `json:"discount"`
}

// FeeBreakdown itemizes fees for display. Origination and YSP are shown as
// separate lines although only total points feed TotalFees.
type FeeBreakdown struct {
	Origination  float64  `json:"origination"`
	Underwriting float64  `json:"underwriting"`
	YSP          float64  `json:"ysp"`
	Prepay       float64  `json:"prepay"`
	LoanSize     float64  `json:"loanSize"`
	SmallLoanFee *float64 `json:"smallLoanFee,omitempty"`
}

// PricingResult is the priced outcome for one product variant.
type PricingResult struct {
	LenderID       string       `json:"lenderId"`
	LenderName     string       `json:"lenderName"`
	ProgramID      string       `json:"programId"`
	ProductName    string       `json:"productName"`
	BaseProduct    string       `json:"baseProduct"`
	InterestOnly   bool         `json:"interestOnly"`
	BaseRate       float64      `json:"baseRate"`
	FinalRate      float64      `json:"finalRate"`
	TotalPoints    float64      `json:"totalPoints"`
	MonthlyPayment float64      `json:"monthlyPayment"`
	TotalFees      float64      `json:"totalFees"`
	TermYears      int          `json:"termYears"`
	Adjustments    Adjustments  `json:"adjustments"`
	Points         Points       `json:"points"`
	FeeBreakdown   FeeBreakdown `json:"feeBreakdown"`
}
