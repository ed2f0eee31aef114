package notion

import "strings"

// PropertyType is the tag of a Notion property value.
type PropertyType string

const (
	TypeTitle       PropertyType = "title"
	TypeRichText    PropertyType = "rich_text"
	TypeNumber      PropertyType = "number"
	TypeSelect      PropertyType = "select"
	TypeMultiSelect PropertyType = "multi_select"
	TypeDate        PropertyType = "date"
	TypeCheckbox    PropertyType = "checkbox"
	TypeURL         PropertyType = "url"
	TypeEmail       PropertyType = "email"
	TypePhoneNumber PropertyType = "phone_number"
)

// KnownPropertyTypes lists every tag Extract understands.
var KnownPropertyTypes = []PropertyType{
	TypeTitle, TypeRichText, TypeNumber, TypeSelect, TypeMultiSelect,
	TypeDate, TypeCheckbox, TypeURL, TypeEmail, TypePhoneNumber,
}

// RichText is a single text run.
type RichText struct {
	PlainText string `json:"plain_text"`
}

// SelectOption is a select or multi-select choice.
type SelectOption struct {
	Name string `json:"name"`
}

// DateRange is the payload of a date property.
type DateRange struct {
	Start string `json:"start"`
	End   string `json:"end,omitempty"`
}

// Property is one tagged property value as returned by the Notion API.
// Only the field matching Type is populated.
type Property struct {
	ID          string         `json:"id,omitempty"`
	Type        PropertyType   `json:"type"`
	Title       []RichText     `json:"title,omitempty"`
	RichText    []RichText     `json:"rich_text,omitempty"`
	Number      *float64       `json:"number,omitempty"`
	Select      *SelectOption  `json:"select,omitempty"`
	MultiSelect []SelectOption `json:"multi_select,omitempty"`
	Date        *DateRange     `json:"date,omitempty"`
	Checkbox    *bool          `json:"checkbox,omitempty"`
	URL         *string        `json:"url,omitempty"`
	Email       *string        `json:"email,omitempty"`
	PhoneNumber *string        `json:"phone_number,omitempty"`
}

// Extract reduces a property to a plain value: string, float64, bool,
// []string or nil. It never fails; unknown tags and absent payloads yield nil.
func Extract(p *Property) any {
	if p == nil {
		return nil
	}
	switch p.Type {
	case TypeTitle:
		return firstRun(p.Title)
	case TypeRichText:
		return firstRun(p.RichText)
	case TypeNumber:
		if p.Number == nil {
			return nil
		}
		return *p.Number
	case TypeSelect:
		if p.Select == nil {
			return nil
		}
		return p.Select.Name
	case TypeMultiSelect:
		names := make([]string, 0, len(p.MultiSelect))
		for _, o := range p.MultiSelect {
			names = append(names, o.Name)
		}
		return names
	case TypeDate:
		if p.Date == nil {
			return nil
		}
		return p.Date.Start
	case TypeCheckbox:
		return p.Checkbox != nil && *p.Checkbox
	case TypeURL:
		return derefString(p.URL)
	case TypeEmail:
		return derefString(p.Email)
	case TypePhoneNumber:
		return derefString(p.PhoneNumber)
	default:
		return nil
	}
}

// Text returns the extracted value of a string-valued property, or "".
func Text(p *Property) string {
	switch v := Extract(p).(type) {
	case string:
		return v
	case []string:
		return strings.Join(v, ", ")
	default:
		return ""
	}
}

func firstRun(runs []RichText) any {
	if len(runs) == 0 {
		return nil
	}
	return runs[0].PlainText
}

func derefString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
