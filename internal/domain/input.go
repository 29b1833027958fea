package domain

import (
	"errors"
	"fmt"
)

// ErrInvalidInput is returned when a loan input is malformed.
var ErrInvalidInput = errors.New("invalid input")

// LoanPurpose is the borrower's reason for the loan.
type LoanPurpose string

const (
	PurposePurchase  LoanPurpose = "purchase"
	PurposeRefinance LoanPurpose = "refinance"
	PurposeCashOut   LoanPurpose = "cash_out"
)

// Valid reports whether p is a known purpose.
func (p LoanPurpose) Valid() bool {
	switch p {
	case PurposePurchase, PurposeRefinance, PurposeCashOut:
		return true
	}
	return false
}

// IsRefinance reports whether p is a rate/term or cash-out refinance.
func (p LoanPurpose) IsRefinance() bool {
	return p == PurposeRefinance || p == PurposeCashOut
}

// LoanInput holds the borrower, property, and loan facts for one quote.
type LoanInput struct {
	FICO        float64     `json:"fico" yaml:"fico"`
	LTV         float64     `json:"ltv" yaml:"ltv"` // percent
	LoanAmount  float64     `json:"loanAmount" yaml:"loanAmount"`
	LoanPurpose LoanPurpose `json:"loanPurpose" yaml:"loanPurpose"`

	PropertyType  string  `json:"propertyType" yaml:"propertyType"`
	PropertyState string  `json:"propertyState" yaml:"propertyState"`
	PropertyValue float64 `json:"propertyValue" yaml:"propertyValue"`
	Units         int     `json:"units,omitempty" yaml:"units,omitempty"`

	// Product restricts pricing to one base product when set.
	Product         string `json:"product,omitempty" yaml:"product,omitempty"`
	InterestOnly    bool   `json:"interestOnly" yaml:"interestOnly"`
	PrepayStructure string `json:"prepayStructure" yaml:"prepayStructure"`

	DSCR               float64 `json:"dscr" yaml:"dscr"`
	BrokerCompensation float64 `json:"brokerCompensation" yaml:"brokerCompensation"` // percent
	YSP                float64 `json:"ysp" yaml:"ysp"`                               // percent
	DiscountPoints     float64 `json:"discountPoints" yaml:"discountPoints"`

	MonthlyRent      float64 `json:"monthlyRentalIncome" yaml:"monthlyRentalIncome"`
	MonthlyInsurance float64 `json:"monthlyInsurance" yaml:"monthlyInsurance"`
	MonthlyTaxes     float64 `json:"monthlyTaxes" yaml:"monthlyTaxes"`
	MonthlyHOA       float64 `json:"monthlyHoa" yaml:"monthlyHoa"`
	ShortTermRental  bool    `json:"shortTermRental" yaml:"shortTermRental"`
}

// Check validates the request shape. Eligibility is judged elsewhere.
func (in *LoanInput) Check() error {
	if in.FICO < 300 || in.FICO > 850 {
		return fmt.Errorf("%w: fico must be between 300 and 850", ErrInvalidInput)
	}
	if in.LTV <= 0 || in.LTV > 100 {
		return fmt.Errorf("%w: ltv must be greater than 0 and at most 100", ErrInvalidInput)
	}
	if in.LoanAmount <= 0 {
		return fmt.Errorf("%w: loanAmount must be positive", ErrInvalidInput)
	}
	if !in.LoanPurpose.Valid() {
		return fmt.Errorf("%w: loanPurpose must be one of purchase, refinance, cash_out", ErrInvalidInput)
	}
	if in.DSCR < 0 || in.PropertyValue < 0 || in.MonthlyRent < 0 {
		return fmt.Errorf("%w: dscr, propertyValue and monthlyRentalIncome cannot be negative", ErrInvalidInput)
	}
	return nil
}

// EffectivePropertyValue returns the stated property value, or the value
// implied by loan amount and LTV when none was given.
func (in *LoanInput) EffectivePropertyValue() float64 {
	if in.PropertyValue > 0 {
		return in.PropertyValue
	}
	if in.LTV > 0 {
		return in.LoanAmount / (in.LTV / 100)
	}
	return 0
}
