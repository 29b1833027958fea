package domain

// PricingMatrix is a lender's declarative pricing and eligibility document
// for one loan program. It is decoded from JSON or YAML and never mutated
// after loading.
type PricingMatrix struct {
	LenderID      string `json:"lenderId" yaml:"lenderId"`
	LenderName    string `json:"lenderName" yaml:"lenderName"`
	ProgramID     string `json:"programId" yaml:"programId"`
	ProgramName   string `json:"programName" yaml:"programName"`
	EffectiveDate string `json:"effectiveDate" yaml:"effectiveDate"`
	Version       string `json:"version,omitempty" yaml:"version,omitempty"`

	LoanTerms            LoanTerms            `json:"loanTerms" yaml:"loanTerms"`
	BorrowerRequirements BorrowerRequirements `json:"borrowerRequirements" yaml:"borrowerRequirements"`
	PropertyRequirements PropertyRequirements `json:"propertyRequirements" yaml:"propertyRequirements"`
	BusinessRules        BusinessRules        `json:"businessRules" yaml:"businessRules"`
	RateStructure        RateStructure        `json:"rateStructure" yaml:"rateStructure"`

	// BaseRates is keyed by FICO range, then by LTV range.
	BaseRates Table[Table[float64]] `json:"baseRates" yaml:"baseRates"`

	// BrokerPayoutAddOns maps a YSP percentage to points.
	BrokerPayoutAddOns Table[float64] `json:"brokerPayoutAddOns" yaml:"brokerPayoutAddOns"`
}

// LoanTerms holds the program's term and fee settings.
type LoanTerms struct {
	Term            string       `json:"term" yaml:"term"`
	Amortization    string       `json:"amortization,omitempty" yaml:"amortization,omitempty"`
	MaxLTV          float64      `json:"maxLTV" yaml:"maxLTV"`
	MinLoanAmount   float64      `json:"minLoanAmount,omitempty" yaml:"minLoanAmount,omitempty"`
	MaxLoanAmount   float64      `json:"maxLoanAmount,omitempty" yaml:"maxLoanAmount,omitempty"`
	UnderwritingFee float64      `json:"underwritingFee" yaml:"underwritingFee"`
	SmallLoanFee    SmallLoanFee `json:"smallLoanFee" yaml:"smallLoanFee"`
}

// SmallLoanFee is a flat fee charged when the loan amount falls within
// [MinLoanAmount, MaxLoanAmount].
type SmallLoanFee struct {
	MinLoanAmount float64 `json:"minLoanAmount" yaml:"minLoanAmount"`
	MaxLoanAmount float64 `json:"maxLoanAmount" yaml:"maxLoanAmount"`
	Fee           float64 `json:"fee" yaml:"fee"`
}

// BorrowerRequirements holds borrower credit floors.
type BorrowerRequirements struct {
	MinFico          float64 `json:"minFico,omitempty" yaml:"minFico,omitempty"`
	MinFicoRefinance float64 `json:"minFicoRefinance,omitempty" yaml:"minFicoRefinance,omitempty"`
}

// PropertyRequirements holds collateral requirements.
type PropertyRequirements struct {
	MinValue              float64  `json:"minValue" yaml:"minValue"`
	DSCRMin               float64  `json:"dscrMin" yaml:"dscrMin"`
	EligiblePropertyTypes []string `json:"eligiblePropertyTypes" yaml:"eligiblePropertyTypes"`
	ExcludedStates        []string `json:"excludedStates" yaml:"excludedStates"`
}

// BusinessRules groups the six rule categories. Each list is evaluated in order.
type BusinessRules struct {
	StateRules             []Rule `json:"stateRules,omitempty" yaml:"stateRules,omitempty"`
	LoanPurposeRules       []Rule `json:"loanPurposeRules,omitempty" yaml:"loanPurposeRules,omitempty"`
	PrepaymentPenaltyRules []Rule `json:"prepaymentPenaltyRules,omitempty" yaml:"prepaymentPenaltyRules,omitempty"`
	DSCRLTVRules           []Rule `json:"dscrLtvRules,omitempty" yaml:"dscrLtvRules,omitempty"`
	ProductRules           []Rule `json:"productRules,omitempty" yaml:"productRules,omitempty"`
	RateRules              []Rule `json:"rateRules,omitempty" yaml:"rateRules,omitempty"`
}

// RateStructure holds every adjustment table applied on top of the base rate.
type RateStructure struct {
	// ProductAdjustments also declares the program's base products, in order.
	ProductAdjustments     Table[float64] `json:"productAdjustments" yaml:"productAdjustments"`
	InterestOnlyAdjustment float64        `json:"interestOnlyAdjustment" yaml:"interestOnlyAdjustment"`

	// OriginationFeeAdjustments is keyed by broker compensation percent thresholds.
	OriginationFeeAdjustments Table[float64] `json:"originationFeeAdjustments" yaml:"originationFeeAdjustments"`

	// LoanSizeAdjustments is keyed by loan amount range.
	LoanSizeAdjustments Table[float64] `json:"loanSizeAdjustments" yaml:"loanSizeAdjustments"`

	// PrepayAdjustments maps a prepay structure to points.
	PrepayAdjustments Table[float64] `json:"prepayAdjustments" yaml:"prepayAdjustments"`

	ProgramAdjustments ProgramAdjustments `json:"programAdjustments" yaml:"programAdjustments"`
	MinimumRate        float64            `json:"minimumRate" yaml:"minimumRate"`
}

// ProgramAdjustments are flat rate adjustments keyed by loan characteristics.
type ProgramAdjustments struct {
	CashOut         float64         `json:"cashOut" yaml:"cashOut"`
	ShortTermRental float64         `json:"shortTermRental" yaml:"shortTermRental"`
	Condo           float64         `json:"condo" yaml:"condo"`
	TwoToFourUnit   float64         `json:"twoToFourUnit" yaml:"twoToFourUnit"`
	DSCR            DSCRAdjustments `json:"dscr" yaml:"dscr"`
}

// DSCRAdjustments are the DSCR bucket constants.
type DSCRAdjustments struct {
	// Above120 applies when DSCR > 1.20.
	Above120 float64 `json:"above120" yaml:"above120"`
	// Below100 applies when DSCR < 1.00 and LTV <= 65.
	Below100 float64 `json:"below100" yaml:"below100"`
}

// MatrixSummary identifies a stored matrix without its tables.
type MatrixSummary struct {
	LenderID      string `json:"lenderId"`
	LenderName    string `json:"lenderName"`
	ProgramID     string `json:"programId"`
	ProgramName   string `json:"programName"`
	Version       string `json:"version,omitempty"`
	EffectiveDate string `json:"effectiveDate"`
	UpdatedAt     string `json:"updatedAt,omitempty"`
}

// Summary returns the identifying fields of the matrix.
func (m *PricingMatrix) Summary() MatrixSummary {
	return MatrixSummary{
		LenderID:      m.LenderID,
		LenderName:    m.LenderName,
		ProgramID:     m.ProgramID,
		ProgramName:   m.ProgramName,
		Version:       m.Version,
		EffectiveDate: m.EffectiveDate,
	}
}
