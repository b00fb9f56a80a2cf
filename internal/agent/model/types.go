package model

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Record is one provider row, keyed by the provider's field names.
type Record map[string]any

// String returns the field as text, or "" when absent or not a string.
func (r Record) String(key string) string {
	if v, ok := r[key].(string); ok {
		return v
	}
	return ""
}

// ContactInfo is one resource in the final answer.
type ContactInfo struct {
	Address string `json:"address"`
	Phone   string `json:"phone"`
	Email   string `json:"email"`
	Website string `json:"website"`
}

// StructuredResponse is the final answer produced by the generate step.
type StructuredResponse struct {
	Addresses []ContactInfo `json:"addresses"`
	Feedback  string        `json:"feedback"`
}

func (r *StructuredResponse) Validate() error {
	if r.Addresses == nil {
		r.Addresses = []ContactInfo{}
	}
	for i, a := range r.Addresses {
		if strings.TrimSpace(a.Address) == "" {
			return fmt.Errorf("addresses[%d]: address is required", i)
		}
	}
	return nil
}

// QueryClassification is the binary domain-relevance verdict.
type QueryClassification struct {
	Classification string `json:"classification"`
}

func (c *QueryClassification) Validate() error {
	c.Classification = strings.ToUpper(strings.TrimSpace(c.Classification))
	if c.Validity() == ValidityUnset {
		return fmt.Errorf("classification must be VALID or INVALID, got %q", c.Classification)
	}
	return nil
}

func (c *QueryClassification) Validity() Validity {
	switch c.Classification {
	case "VALID":
		return ValidityValid
	case "INVALID":
		return ValidityInvalid
	}
	return ValidityUnset
}

// EvaluationSignal is the evaluator's verdict on the api_call results.
type EvaluationSignal struct {
	ShouldSearch    bool `json:"should_search"`
	IsHighOccupancy bool `json:"is_high_occupancy"`
}

func (e *EvaluationSignal) Validate() error { return nil }

// ErrInvalidFilter marks a filter value outside its enumerated vocabulary.
var ErrInvalidFilter = errors.New("invalid filter value")

var (
	ShelterSectors = []string{"Families", "Mixed Adult", "Men", "Women", "Youth", ""}

	ShelterServiceTypes = []string{
		"Motel/Hotel Shelter", "Shelter", "24-Hour Respite Site",
		"Top Bunk Contingency Space", "Isolation/Recovery Site", "Alternative Space Protocol", "",
	}

	YesOrEmpty = []string{"Yes", ""}

	SupportedLanguages = []string{
		"Akan (Twi)", "Arabic", "Bengali", "Cantonese", "Chinese - Other", "Dari", "Edo",
		"French", "German", "Gujarati", "Hindi", "Italian", "Japanese", "Korean", "Mandarin",
		"Panjabi (Punjabi)", "Pashto", "Persian (Farsi)", "Portuguese", "Russian", "Somali",
		"Spanish", "Tagalog (Pilipino, Filipino)", "Tamil", "Urdu", "Vietnamese",
	}
)

// ShelterFilter narrows the shelter occupancy dataset.
type ShelterFilter struct {
	Sector               string `json:"SECTOR"`
	OvernightServiceType string `json:"OVERNIGHT_SERVICE_TYPE"`
}

func (f *ShelterFilter) Validate() error {
	if !slices.Contains(ShelterSectors, f.Sector) {
		return fmt.Errorf("%w: SECTOR %q", ErrInvalidFilter, f.Sector)
	}
	if !slices.Contains(ShelterServiceTypes, f.OvernightServiceType) {
		return fmt.Errorf("%w: OVERNIGHT_SERVICE_TYPE %q", ErrInvalidFilter, f.OvernightServiceType)
	}
	return nil
}

// Exact returns the non-empty provider filters.
func (f *ShelterFilter) Exact() map[string]string {
	out := map[string]string{}
	if f.Sector != "" {
		out["SECTOR"] = f.Sector
	}
	if f.OvernightServiceType != "" {
		out["OVERNIGHT_SERVICE_TYPE"] = f.OvernightServiceType
	}
	return out
}

// FamilyCenterFilter narrows the EarlyON centre dataset. Languages is a
// semicolon separated list.
type FamilyCenterFilter struct {
	FrenchLanguageProgram string `json:"french_language_program"`
	IndigenousProgram     string `json:"indigenous_program"`
	Languages             string `json:"languages"`
}

// Validate checks every field against its vocabulary and canonicalises the
// language list (case, spacing, English dropped).
func (f *FamilyCenterFilter) Validate() error {
	if !slices.Contains(YesOrEmpty, f.FrenchLanguageProgram) {
		return fmt.Errorf("%w: french_language_program %q", ErrInvalidFilter, f.FrenchLanguageProgram)
	}
	if !slices.Contains(YesOrEmpty, f.IndigenousProgram) {
		return fmt.Errorf("%w: indigenous_program %q", ErrInvalidFilter, f.IndigenousProgram)
	}
	langs, err := canonicalLanguages(f.Languages)
	if err != nil {
		return err
	}
	f.Languages = strings.Join(langs, ";")
	return nil
}

// LanguageList returns the validated languages.
func (f *FamilyCenterFilter) LanguageList() []string {
	if f.Languages == "" {
		return nil
	}
	return strings.Split(f.Languages, ";")
}

// Exact returns the non-empty typed provider filters. Languages are not a
// typed filter on the provider and are matched separately.
func (f *FamilyCenterFilter) Exact() map[string]string {
	out := map[string]string{}
	if f.FrenchLanguageProgram != "" {
		out["french_language_program"] = f.FrenchLanguageProgram
	}
	if f.IndigenousProgram != "" {
		out["indigenous_program"] = f.IndigenousProgram
	}
	return out
}

func canonicalLanguages(raw string) ([]string, error) {
	var out []string
	for _, part := range strings.Split(raw, ";") {
		part = strings.TrimSpace(part)
		if part == "" || strings.EqualFold(part, "English") {
			continue
		}
		idx := slices.IndexFunc(SupportedLanguages, func(l string) bool { return strings.EqualFold(l, part) })
		if idx < 0 {
			return nil, fmt.Errorf("%w: language %q", ErrInvalidFilter, part)
		}
		if !slices.Contains(out, SupportedLanguages[idx]) {
			out = append(out, SupportedLanguages[idx])
		}
	}
	return out, nil
}
