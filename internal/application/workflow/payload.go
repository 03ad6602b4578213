package workflow

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/garyjia/finflow/internal/domain/errs"
	"github.com/shopspring/decimal"
)

// Payload carries action or creation data as decoded from a request body
type Payload map[string]interface{}

const dateLayout = "2006-01-02"

// Stored amounts are NUMERIC(20,4): four decimal places and sixteen integer
// digits.
const (
	amountScale     = 4
	amountIntDigits = 16
)

var amountLimit = decimal.New(1, amountIntDigits)

// checkAmount rejects numbers the store would round or overflow
func checkAmount(key string, d decimal.Decimal) error {
	if !d.Equal(d.Truncate(amountScale)) {
		return errs.Validation("%s has more than %d decimal places", key, amountScale)
	}
	if d.Abs().GreaterThanOrEqual(amountLimit) {
		return errs.Validation("%s exceeds %d integer digits", key, amountIntDigits)
	}
	return nil
}

// Text returns the trimmed string at key, or "" when absent
func (p Payload) Text(key string) string {
	switch v := p[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// RequiredText is Text that fails when the value is blank
func (p Payload) RequiredText(key string) (string, error) {
	s := p.Text(key)
	if s == "" {
		return "", errs.Validation("%s is required", key)
	}
	return s, nil
}

// Decimal parses the number at key. Strings are preferred for amounts;
// JSON numbers are accepted. ok is false when the key is absent.
func (p Payload) Decimal(key string) (d decimal.Decimal, ok bool, err error) {
	raw, present := p[key]
	if !present || raw == nil {
		return decimal.Zero, false, nil
	}

	switch v := raw.(type) {
	case string:
		if strings.TrimSpace(v) == "" {
			return decimal.Zero, false, nil
		}
		d, err = decimal.NewFromString(strings.TrimSpace(v))
	case json.Number:
		d, err = decimal.NewFromString(v.String())
	case float64:
		d = decimal.NewFromFloat(v)
	case int:
		d = decimal.NewFromInt(int64(v))
	case int64:
		d = decimal.NewFromInt(v)
	case decimal.Decimal:
		d = v
	default:
		err = fmt.Errorf("unsupported type %T", raw)
	}
	if err != nil {
		return decimal.Zero, false, errs.Validation("%s is not a valid number", key)
	}
	if err := checkAmount(key, d); err != nil {
		return decimal.Zero, false, err
	}
	return d, true, nil
}

// Amount parses a required, strictly positive number
func (p Payload) Amount(key string) (decimal.Decimal, error) {
	d, ok, err := p.Decimal(key)
	if err != nil {
		return decimal.Zero, err
	}
	if !ok {
		return decimal.Zero, errs.Validation("%s is required", key)
	}
	if !d.IsPositive() {
		return decimal.Zero, errs.Validation("%s must be greater than zero", key)
	}
	return d, nil
}

// Date parses an RFC 3339 timestamp or a YYYY-MM-DD date at key, returning
// def when absent
func (p Payload) Date(key string, def time.Time) (time.Time, error) {
	if t, ok := p[key].(time.Time); ok {
		return t.UTC(), nil
	}

	s := p.Text(key)
	if s == "" {
		return def, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, errs.Validation("%s must be a date (YYYY-MM-DD) or RFC 3339 timestamp", key)
	}
	return t, nil
}

// List returns the objects of the array at key
func (p Payload) List(key string) ([]Payload, error) {
	switch v := p[key].(type) {
	case nil:
		return nil, nil
	case []Payload:
		return v, nil
	case []map[string]interface{}:
		out := make([]Payload, len(v))
		for i := range v {
			out[i] = v[i]
		}
		return out, nil
	case []interface{}:
		out := make([]Payload, 0, len(v))
		for i, item := range v {
			m, ok := item.(map[string]interface{})
			if !ok {
				return nil, errs.Validation("%s[%d] must be an object", key, i)
			}
			out = append(out, m)
		}
		return out, nil
	default:
		return nil, errs.Validation("%s must be a list", key)
	}
}

// Strings returns the non-blank strings of the array at key
func (p Payload) Strings(key string) ([]string, error) {
	switch v := p[key].(type) {
	case nil:
		return nil, nil
	case []string:
		return compact(v), nil
	case []interface{}:
		out := make([]string, 0, len(v))
		for i, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, errs.Validation("%s[%d] must be a string", key, i)
			}
			out = append(out, s)
		}
		return compact(out), nil
	default:
		return nil, errs.Validation("%s must be a list of strings", key)
	}
}

func compact(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
