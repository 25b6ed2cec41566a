package domain

import (
	"errors"
	"strconv"
	"strings"
)

// ProfileField names one of the collected member fields
type ProfileField string

const (
	FieldName    ProfileField = "name"
	FieldID      ProfileField = "id"
	FieldGender  ProfileField = "gender"
	FieldAge     ProfileField = "age"
	FieldHMO     ProfileField = "hmo"
	FieldHMOCard ProfileField = "hmo_card"
	FieldTier    ProfileField = "tier"
)

// ProfileFields lists the fields in collection order
var ProfileFields = []ProfileField{
	FieldName, FieldID, FieldGender, FieldAge, FieldHMO, FieldHMOCard, FieldTier,
}

// FieldState is the collection state of a single field
type FieldState string

const (
	FieldStateUnset       FieldState = "unset"       // No value yet
	FieldStateProvisional FieldState = "provisional" // Valid value, not confirmed
	FieldStateValidated   FieldState = "validated"   // Confirmed by the member
)

// Gender values accepted after normalization
const (
	GenderMale   = "male"
	GenderFemale = "female"
	GenderOther  = "other"
)

var genderAliases = map[string]string{
	"male":   GenderMale,
	"female": GenderFemale,
	"other":  GenderOther,
	"זכר":    GenderMale,
	"נקבה":   GenderFemale,
	"אחר":    GenderOther,
}

// UserProfile holds the member fields collected in conversation.
// Only HMO and Tier feed retrieval.
type UserProfile struct {
	Name      string `json:"name,omitempty"`
	ID        string `json:"id,omitempty"`
	Gender    string `json:"gender,omitempty"`
	Age       *int   `json:"age,omitempty"`
	HMO       HMO    `json:"hmo,omitempty"`
	HMOCard   string `json:"hmo_card,omitempty"`
	Tier      Tier   `json:"tier,omitempty"`
	Confirmed bool   `json:"confirmed"`
}

// ProfileUpdate carries values extracted from one user message.
// Nil fields were not mentioned.
type ProfileUpdate struct {
	Name    *string `json:"name"`
	ID      *string `json:"id"`
	Gender  *string `json:"gender"`
	Age     *int    `json:"age"`
	HMO     *string `json:"hmo"`
	HMOCard *string `json:"hmo_card"`
	Tier    *string `json:"tier"`
	Confirm bool    `json:"confirmed"`
}

// IsEmpty returns true if the update carries no field values
func (u *ProfileUpdate) IsEmpty() bool {
	return u.Name == nil && u.ID == nil && u.Gender == nil && u.Age == nil &&
		u.HMO == nil && u.HMOCard == nil && u.Tier == nil
}

func (p *UserProfile) hasValue(f ProfileField) bool {
	switch f {
	case FieldName:
		return p.Name != ""
	case FieldID:
		return p.ID != ""
	case FieldGender:
		return p.Gender != ""
	case FieldAge:
		return p.Age != nil
	case FieldHMO:
		return p.HMO != ""
	case FieldHMOCard:
		return p.HMOCard != ""
	case FieldTier:
		return p.Tier != ""
	}
	return false
}

// State returns the collection state of a field
func (p *UserProfile) State(f ProfileField) FieldState {
	if !p.hasValue(f) {
		return FieldStateUnset
	}
	if p.Confirmed {
		return FieldStateValidated
	}
	return FieldStateProvisional
}

// States returns the state of every field
func (p *UserProfile) States() map[ProfileField]FieldState {
	out := make(map[ProfileField]FieldState, len(ProfileFields))
	for _, f := range ProfileFields {
		out[f] = p.State(f)
	}
	return out
}

// MissingFields lists unset fields in collection order
func (p *UserProfile) MissingFields() []ProfileField {
	var missing []ProfileField
	for _, f := range ProfileFields {
		if !p.hasValue(f) {
			missing = append(missing, f)
		}
	}
	return missing
}

// IsComplete returns true once every field has a value
func (p *UserProfile) IsComplete() bool {
	return len(p.MissingFields()) == 0
}

// Ready returns true when the profile can drive question answering.
// Every field must be set and pass validation, and the member must have
// confirmed it.
func (p *UserProfile) Ready() bool {
	return p != nil && p.Confirmed && p.IsComplete() && len(p.Invalid()) == 0
}

// Invalid validates every stored value and returns the failures by field
func (p *UserProfile) Invalid() map[ProfileField]string {
	errs := make(map[ProfileField]string)
	for _, f := range ProfileFields {
		var verr *ValidationError
		if err := p.ValidateField(f); errors.As(err, &verr) {
			errs[f] = verr.Message
		}
	}
	return errs
}

// Sanitize returns a copy without the invalid stored values. A profile
// that loses a value also loses its confirmation.
func (p UserProfile) Sanitize() (UserProfile, map[ProfileField]string) {
	errs := p.Invalid()
	if len(errs) == 0 {
		return p, nil
	}
	for f := range errs {
		p.clear(f)
	}
	p.Confirmed = false
	return p, errs
}

func (p *UserProfile) clear(f ProfileField) {
	switch f {
	case FieldName:
		p.Name = ""
	case FieldID:
		p.ID = ""
	case FieldGender:
		p.Gender = ""
	case FieldAge:
		p.Age = nil
	case FieldHMO:
		p.HMO = ""
	case FieldHMOCard:
		p.HMOCard = ""
	case FieldTier:
		p.Tier = ""
	}
}

// Apply merges an update into a copy of the profile.
// Invalid values are rejected per field and the previous value kept.
// Any accepted change clears confirmation.
func (p UserProfile) Apply(u ProfileUpdate) (UserProfile, map[ProfileField]string) {
	next := p
	errs := make(map[ProfileField]string)
	changed := false

	setString := func(f ProfileField, raw *string, dst *string, norm func(string) (string, string)) {
		if raw == nil {
			return
		}
		v, msg := norm(*raw)
		if msg != "" {
			errs[f] = msg
			return
		}
		if *dst != v {
			*dst = v
			changed = true
		}
	}

	setString(FieldName, u.Name, &next.Name, normalizeName)
	setString(FieldID, u.ID, &next.ID, digitsValidator("ID"))
	setString(FieldGender, u.Gender, &next.Gender, normalizeGender)
	setString(FieldHMOCard, u.HMOCard, &next.HMOCard, digitsValidator("HMO card"))

	if u.Age != nil {
		if *u.Age < 0 || *u.Age > 120 {
			errs[FieldAge] = "Age must be between 0 and 120"
		} else if next.Age == nil || *next.Age != *u.Age {
			age := *u.Age
			next.Age = &age
			changed = true
		}
	}
	if u.HMO != nil {
		if h, ok := ParseHMO(*u.HMO); ok {
			if next.HMO != h {
				next.HMO = h
				changed = true
			}
		} else {
			errs[FieldHMO] = "HMO must be one of: Maccabi, Meuhedet, Clalit"
		}
	}
	if u.Tier != nil {
		if t, ok := ParseTier(*u.Tier); ok {
			if next.Tier != t {
				next.Tier = t
				changed = true
			}
		} else {
			errs[FieldTier] = "Tier must be one of: Gold, Silver, Bronze"
		}
	}

	switch {
	case changed:
		next.Confirmed = false
	case u.Confirm && len(errs) == 0 && next.IsComplete():
		next.Confirmed = true
	}
	return next, errs
}

// ValidateField checks the stored value of one field
func (p *UserProfile) ValidateField(f ProfileField) error {
	var msg string
	switch f {
	case FieldName:
		_, msg = normalizeName(p.Name)
	case FieldID:
		_, msg = digitsValidator("ID")(p.ID)
	case FieldGender:
		_, msg = normalizeGender(p.Gender)
	case FieldAge:
		if p.Age != nil && (*p.Age < 0 || *p.Age > 120) {
			msg = "Age must be between 0 and 120"
		}
	case FieldHMO:
		if !p.HMO.IsValid() {
			msg = "HMO must be one of: Maccabi, Meuhedet, Clalit"
		}
	case FieldHMOCard:
		_, msg = digitsValidator("HMO card")(p.HMOCard)
	case FieldTier:
		if !p.Tier.IsValid() {
			msg = "Tier must be one of: Gold, Silver, Bronze"
		}
	}
	if msg != "" && p.hasValue(f) {
		return NewValidationError(string(f), msg)
	}
	return nil
}

// Summary renders the collected values for confirmation prompts
func (p *UserProfile) Summary() map[ProfileField]string {
	out := make(map[ProfileField]string)
	for _, f := range ProfileFields {
		if !p.hasValue(f) {
			continue
		}
		switch f {
		case FieldName:
			out[f] = p.Name
		case FieldID:
			out[f] = p.ID
		case FieldGender:
			out[f] = p.Gender
		case FieldAge:
			out[f] = strconv.Itoa(*p.Age)
		case FieldHMO:
			out[f] = string(p.HMO)
		case FieldHMOCard:
			out[f] = p.HMOCard
		case FieldTier:
			out[f] = string(p.Tier)
		}
	}
	return out
}

func normalizeName(s string) (string, string) {
	name := strings.Join(strings.Fields(s), " ")
	if len(strings.Fields(name)) < 2 {
		return "", "Name must include first and last name"
	}
	return name, ""
}

func normalizeGender(s string) (string, string) {
	g, ok := genderAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", "Gender must be one of: male, female, other"
	}
	return g, ""
}

func digitsValidator(label string) func(string) (string, string) {
	return func(s string) (string, string) {
		s = strings.TrimSpace(s)
		for _, r := range s {
			if r < '0' || r > '9' {
				return "", label + " must contain only digits"
			}
		}
		if len(s) != 9 {
			return "", label + " must be exactly 9 digits"
		}
		return s, ""
	}
}
