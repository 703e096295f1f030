// Package form gives the opaque form payload stored with each case a typed
// shape. A Payload is a tagged union over the residence and business
// verification wizards: Kind says which variant is active, the typed
// sections carry the known fields, and anything else is preserved in Extra
// maps so that Parse followed by Map never drops data.
package form

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"reflect"
	"strconv"
	"strings"
)

// Kind identifies the verification variant of a payload.
type Kind string

// Payload kinds.
const (
	KindResidential  Kind = "rv"
	KindBusiness     Kind = "bv"
	KindSelfEmployed Kind = "bv/self_employed"
	KindService      Kind = "bv/service"
	KindUnknown      Kind = "unknown"
)

// Keys of the nested section objects.
const (
	KeyResidential  = "residential_details"
	KeySelfEmployed = "self_employed"
	KeyService      = "service"
)

// Values of type_of_business.
const (
	BusinessSelfEmployed = "self_employed"
	BusinessService      = "service"
)

// ErrNotObject is returned when a payload is not a JSON object.
var ErrNotObject = errors.New("form: payload is not a JSON object")

// Payload is the typed view of a form payload.
type Payload struct {
	Kind Kind

	Common   Common
	Business BusinessBasics

	Residential  *Residential
	SelfEmployed *SelfEmployed
	Service      *Service

	// Extra holds top-level keys with no typed field (locationPictures,
	// identity fields, anything newer clients add).
	Extra map[string]any

	// raw is the decoded payload Parse started from. Map writes typed
	// fields over it only where they changed.
	raw map[string]any
}

var (
	commonKeys   = jsonFieldNames(reflect.TypeFor[Common]())
	businessKeys = jsonFieldNames(reflect.TypeFor[BusinessBasics]())
)

// jsonFieldNames returns the JSON names of the exported, tagged fields of t.
func jsonFieldNames(t reflect.Type) map[string]bool {
	names := make(map[string]bool, t.NumField())

	for i := range t.NumField() {
		f := t.Field(i)

		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			continue
		}

		names[name] = true
	}

	return names
}

// CaseKind maps an FL type code ("rv", "bv", "Rv-Office", ...) to the wizard
// it uses. Anything that is not recognizably residential is a business
// verification.
func CaseKind(flType string) Kind {
	t := strings.ToLower(strings.TrimSpace(flType))

	switch {
	case t == "":
		return KindUnknown
	case strings.Contains(t, "rv"):
		return KindResidential
	default:
		return KindBusiness
	}
}

// Parse decodes raw into a Payload. caseType is the FL type of the case and
// decides between the residence and business variants; when it is empty
// the kind is inferred from the payload itself.
func Parse(raw json.RawMessage, caseType string) (*Payload, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotObject, err)
	}

	if top == nil {
		return nil, ErrNotObject
	}

	p := &Payload{Extra: make(map[string]any)}

	if err := decodeNumbers(raw, &p.raw); err != nil {
		return nil, fmt.Errorf("form: decoding payload: %w", err)
	}

	if err := decodeFlat(top, &p.Common); err != nil {
		return nil, err
	}

	if err := decodeFlat(top, &p.Business); err != nil {
		return nil, err
	}

	for key, val := range top {
		if commonKeys[key] || businessKeys[key] {
			continue
		}

		base, isObject := p.raw[key].(map[string]any)
		if !isObject {
			// null or a non-object section goes back out untouched
			p.Extra[key] = p.raw[key]
			continue
		}

		var err error

		switch key {
		case KeyResidential:
			p.Residential, err = decodeSection(val, base, func(s *Residential, extra map[string]any) { s.Extra = extra })
		case KeySelfEmployed:
			p.SelfEmployed, err = decodeSection(val, base, func(s *SelfEmployed, extra map[string]any) { s.Extra = extra })
		case KeyService:
			p.Service, err = decodeSection(val, base, func(s *Service, extra map[string]any) { s.Extra = extra })
		default:
			p.Extra[key] = p.raw[key]
		}

		if err != nil {
			return nil, fmt.Errorf("form: decoding %s: %w", key, err)
		}
	}

	p.Kind = p.classify(CaseKind(caseType))

	return p, nil
}

// decodeNumbers unmarshals data keeping numbers as json.Number, so they
// encode back exactly as written.
func decodeNumbers(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	return dec.Decode(v)
}

// decodeFlat decodes the known top-level keys of v from top.
func decodeFlat(top map[string]json.RawMessage, v any) error {
	names := jsonFieldNames(reflect.TypeOf(v).Elem())
	subset := make(map[string]json.RawMessage, len(names))

	for name := range names {
		if val, ok := top[name]; ok {
			subset[name] = val
		}
	}

	data, err := json.Marshal(subset)
	if err != nil {
		return fmt.Errorf("form: re-encoding fields: %w", err)
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("form: decoding fields: %w", err)
	}

	return nil
}

// decodeSection decodes a nested section object. Keys of base the section
// type does not know are handed to setExtra.
func decodeSection[T any](raw json.RawMessage, base map[string]any, setExtra func(*T, map[string]any)) (*T, error) {
	section := new(T)
	if err := json.Unmarshal(raw, section); err != nil {
		return nil, err
	}

	known := jsonFieldNames(reflect.TypeFor[T]())
	extra := make(map[string]any)

	for k, v := range base {
		if !known[k] {
			extra[k] = v
		}
	}

	if len(extra) > 0 {
		setExtra(section, extra)
	}

	return section, nil
}

// classify picks the variant. An explicit case kind wins; otherwise the
// payload's own fields decide.
func (p *Payload) classify(hint Kind) Kind {
	business := func() Kind {
		switch strings.TrimSpace(string(p.Business.TypeOfBusiness)) {
		case BusinessSelfEmployed:
			return KindSelfEmployed
		case BusinessService:
			return KindService
		default:
			return KindBusiness
		}
	}

	switch hint {
	case KindResidential:
		return KindResidential
	case KindBusiness, KindSelfEmployed, KindService:
		return business()
	}

	if p.Business.TypeOfBusiness != "" || p.Business.MetPersonName != "" {
		return business()
	}

	if p.Residential != nil && p.Residential.NameOfPersonMet != "" {
		return KindResidential
	}

	return KindUnknown
}

// IsBusiness reports whether the payload belongs to the business wizard.
func (p *Payload) IsBusiness() bool {
	switch p.Kind {
	case KindBusiness, KindSelfEmployed, KindService:
		return true
	default:
		return false
	}
}

// Map returns the payload as a plain map. A parsed payload comes back with
// every stored key and value as it was; typed fields are written over it
// only where they were changed, and unset typed fields are not added.
func (p *Payload) Map() map[string]any {
	out := make(map[string]any, len(p.raw)+len(p.Extra))
	maps.Copy(out, p.raw)
	maps.Copy(out, p.Extra)
	applyFields(out, p.Common, p.raw)
	applyFields(out, p.Business, p.raw)

	p.mapSection(out, KeyResidential, p.Residential, func() (any, map[string]any) {
		return *p.Residential, p.Residential.Extra
	})
	p.mapSection(out, KeySelfEmployed, p.SelfEmployed, func() (any, map[string]any) {
		return *p.SelfEmployed, p.SelfEmployed.Extra
	})
	p.mapSection(out, KeyService, p.Service, func() (any, map[string]any) {
		return *p.Service, p.Service.Extra
	})

	return out
}

func (p *Payload) mapSection(out map[string]any, key string, section any, fields func() (any, map[string]any)) {
	if reflect.ValueOf(section).IsNil() {
		return
	}

	base, _ := p.raw[key].(map[string]any)
	v, extra := fields()

	sec := make(map[string]any, len(base)+len(extra))
	maps.Copy(sec, base)
	maps.Copy(sec, extra)
	applyFields(sec, v, base)

	out[key] = sec
}

// MarshalJSON encodes the payload in its wire shape.
func (p *Payload) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.Map())
}

// applyFields writes the Text fields of v into out. A field keeps the value
// in base when its text still matches it, and an empty field absent from
// base is left out.
func applyFields(out map[string]any, v any, base map[string]any) {
	rv := reflect.ValueOf(v)
	rt := rv.Type()

	for i := range rt.NumField() {
		name, _, _ := strings.Cut(rt.Field(i).Tag.Get("json"), ",")
		if name == "" || name == "-" {
			continue
		}

		t, ok := rv.Field(i).Interface().(Text)
		if !ok {
			continue
		}

		orig, present := base[name]

		switch {
		case present && textOf(orig) == string(t):
		case !present && t == "":
		default:
			out[name] = string(t)
		}
	}
}

// textOf is the Text a decoded JSON value reads as.
func textOf(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}
