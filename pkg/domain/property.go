package domain

import (
	"fmt"
	"time"
)

// PropertyType tags a property value with its primitive kind. Each tag admits
// exactly one payload field on PropertyValue.
type PropertyType string

// Primitive property kinds.
const (
	PropertyText   PropertyType = "text"
	PropertyNumber PropertyType = "number"
	PropertyDate   PropertyType = "date"
	PropertyUser   PropertyType = "user"
	PropertyChoice PropertyType = "choice"
	PropertyImage  PropertyType = "image"
)

// PropertyValue is a typed property cell. The payload field matching Type is
// authoritative; the remaining payload fields must stay zero.
type PropertyValue struct {
	PropertyTypeID int64        `json:"property_type_id"`
	Name           string       `json:"name"`
	Type           PropertyType `json:"type"`
	Required       bool         `json:"required"`

	Text      *string    `json:"text,omitempty"`
	Number    *float64   `json:"number,omitempty"`
	Date      *time.Time `json:"date,omitempty"`
	UserID    *int64     `json:"user_id,omitempty"`
	ChoiceIDs []int64    `json:"choice_ids,omitempty"`
	ImageKey  *string    `json:"image_key,omitempty"`
}

// Validate checks tag/payload agreement and the required constraint.
func (p PropertyValue) Validate() error {
	var set int
	if p.Text != nil {
		set++
	}
	if p.Number != nil {
		set++
	}
	if p.Date != nil {
		set++
	}
	if p.UserID != nil {
		set++
	}
	if len(p.ChoiceIDs) > 0 {
		set++
	}
	if p.ImageKey != nil {
		set++
	}
	if set > 1 {
		return fmt.Errorf("property %d carries %d payloads", p.PropertyTypeID, set)
	}
	if set == 1 && !p.payloadMatchesTag() {
		return fmt.Errorf("property %d payload does not match type %s", p.PropertyTypeID, p.Type)
	}
	if p.Required && set == 0 {
		return fmt.Errorf("property %d (%s) is required", p.PropertyTypeID, p.Name)
	}
	return nil
}

func (p PropertyValue) payloadMatchesTag() bool {
	switch p.Type {
	case PropertyText:
		return p.Text != nil
	case PropertyNumber:
		return p.Number != nil
	case PropertyDate:
		return p.Date != nil
	case PropertyUser:
		return p.UserID != nil
	case PropertyChoice:
		return len(p.ChoiceIDs) > 0
	case PropertyImage:
		return p.ImageKey != nil
	default:
		return false
	}
}

// IsEmpty reports whether no payload is set.
func (p PropertyValue) IsEmpty() bool {
	return p.Text == nil && p.Number == nil && p.Date == nil &&
		p.UserID == nil && len(p.ChoiceIDs) == 0 && p.ImageKey == nil
}

// FindProperty returns the property with the given type id, if present.
func FindProperty(values []PropertyValue, propertyTypeID int64) (PropertyValue, bool) {
	for _, v := range values {
		if v.PropertyTypeID == propertyTypeID {
			return v, true
		}
	}
	return PropertyValue{}, false
}

// MergeProperties overlays updates onto base by property type id, appending
// updates for type ids base does not carry.
func MergeProperties(base, updates []PropertyValue) []PropertyValue {
	out := make([]PropertyValue, len(base))
	copy(out, base)
	for _, u := range updates {
		replaced := false
		for i := range out {
			if out[i].PropertyTypeID == u.PropertyTypeID {
				out[i] = u
				replaced = true
				break
			}
		}
		if !replaced {
			out = append(out, u)
		}
	}
	return out
}
