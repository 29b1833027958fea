package matrix

import (
	"regexp"
	"strconv"
	"strings"
)

// Canonical property types.
const (
	PropertySFR          = "1-4 Unit SFR"
	PropertyCondo        = "Condo"
	PropertyTownhome     = "Townhome"
	PropertyTwoToFour    = "2-4 Unit"
	PropertyFivePlus     = "5+ Unit Multifamily"
	PropertyPUD          = "PUD"
	PropertyMixedUse     = "Mixed Use"
	PropertyManufactured = "Manufactured"
)

var propertySynonyms = map[string]string{
	"single family":            PropertySFR,
	"single-family":            PropertySFR,
	"single family residence":  PropertySFR,
	"single family home":       PropertySFR,
	"sfr":                      PropertySFR,
	"sfh":                      PropertySFR,
	"1 unit":                   PropertySFR,
	"1-4 unit sfr":             PropertySFR,
	"1-4 unit":                 PropertySFR,
	"condo":                    PropertyCondo,
	"condominium":              PropertyCondo,
	"warrantable condo":        PropertyCondo,
	"townhome":                 PropertyTownhome,
	"townhouse":                PropertyTownhome,
	"2-4 unit":                 PropertyTwoToFour,
	"2-4 units":                PropertyTwoToFour,
	"2-4 unit multifamily":     PropertyTwoToFour,
	"multi-family 2-4":         PropertyTwoToFour,
	"duplex":                   PropertyTwoToFour,
	"triplex":                  PropertyTwoToFour,
	"fourplex":                 PropertyTwoToFour,
	"quadplex":                 PropertyTwoToFour,
	"2 unit":                   PropertyTwoToFour,
	"3 unit":                   PropertyTwoToFour,
	"4 unit":                   PropertyTwoToFour,
	"5+ unit multifamily":      PropertyFivePlus,
	"5+ units":                 PropertyFivePlus,
	"5+ unit":                  PropertyFivePlus,
	"multifamily 5+":           PropertyFivePlus,
	"multifamily 5+ units":     PropertyFivePlus,
	"commercial multifamily":   PropertyFivePlus,
	"pud":                      PropertyPUD,
	"planned unit development": PropertyPUD,
	"mixed use":                PropertyMixedUse,
	"mixed-use":                PropertyMixedUse,
	"manufactured":             PropertyManufactured,
	"manufactured home":        PropertyManufactured,
	"manufactured housing":     PropertyManufactured,
}

var spaceRun = regexp.MustCompile(`\s+`)

func normalizeText(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = keyReplacer.Replace(s)
	s = spaceRun.ReplaceAllString(s, " ")
	return strings.ReplaceAll(strings.ReplaceAll(s, " -", "-"), "- ", "-")
}

// NormalizePropertyType maps a free-text property type to its canonical
// label. Unknown types are returned trimmed.
func NormalizePropertyType(s string) string {
	if canon, ok := propertySynonyms[normalizeText(s)]; ok {
		return canon
	}
	return strings.TrimSpace(s)
}

// SamePropertyType compares two property types after normalization.
func SamePropertyType(a, b string) bool {
	return strings.EqualFold(NormalizePropertyType(a), NormalizePropertyType(b))
}

// IsFivePlusUnit reports a 5+ unit property, by type or unit count.
func IsFivePlusUnit(propertyType string, units int) bool {
	return NormalizePropertyType(propertyType) == PropertyFivePlus || units >= 5
}

// IsTwoToFourUnit reports a 2-4 unit property, by type or unit count.
func IsTwoToFourUnit(propertyType string, units int) bool {
	if NormalizePropertyType(propertyType) == PropertyTwoToFour {
		return true
	}
	return units >= 2 && units <= 4
}

// IsCondo reports a condominium.
func IsCondo(propertyType string) bool {
	return NormalizePropertyType(propertyType) == PropertyCondo
}

// NormalizePrepay canonicalizes a prepay structure for table lookups.
func NormalizePrepay(s string) string {
	return strings.ReplaceAll(normalizeText(s), " ", "")
}

var zeroPrepay = map[string]bool{
	"":          true,
	"0":         true,
	"none":      true,
	"noprepay":  true,
	"nopenalty": true,
	"noppp":     true,
	"0yr":       true,
	"0year":     true,
	"0years":    true,
}

// IsZeroPrepay reports whether s names a structure without a prepay penalty.
func IsZeroPrepay(s string) bool {
	return zeroPrepay[NormalizePrepay(s)]
}

var termPattern = regexp.MustCompile(`(?i)(\d+)\s*-?\s*(?:years?|yrs?)\b`)

// ParseTermYears extracts a term in years from strings like "30 years",
// "30 Year Fixed" or "40yr".
func ParseTermYears(s string) (int, bool) {
	m := termPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// NormalizeState canonicalizes a state code.
func NormalizeState(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
