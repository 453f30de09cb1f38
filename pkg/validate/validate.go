// Package validate sanitizes and bounds-checks prediction payloads before
// they reach the model layer.
//
// Validation collects every field error in one pass so a client can fix all
// problems at once. Well-formed but statistically unusual input (a fare of
// zero, a child with a first-class fare) is an anomaly signal for logging,
// never a rejection.
package validate

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/voyagekit/lifeboat/pkg/apierr"
	"github.com/voyagekit/lifeboat/pkg/features"
)

// Hard bounds for numeric fields. Values outside these are rejected.
const (
	maxAge        = 120
	maxFare       = 1000
	maxSibSp      = 20
	maxParch      = 20
	maxFieldBytes = 100
)

// Patterns rejected in any string field. These guard downstream log sinks
// and stores, not the models themselves.
var (
	controlChars = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f\x7f-\x9f]`)
	sqlMeta      = regexp.MustCompile(`(?i)(\b(union|select|insert|update|delete|drop|create|alter|exec|execute)\b|['";]|--|/\*|\*/)`)
	xssMeta      = regexp.MustCompile(`(?i)(<script|<iframe|<object|<embed|javascript:|vbscript:|on\w+\s*=)`)
)

var knownFields = map[string]bool{
	"pclass": true, "sex": true, "age": true, "sibsp": true,
	"parch": true, "fare": true, "embarked": true,
}

// Passenger parses and validates a raw JSON payload into passenger
// features. On failure it returns an *apierr.ValidationError carrying every
// field error found. The anomaly list is a warning-level signal for the
// caller to log; it never causes rejection.
func Passenger(body []byte) (features.Passenger, []string, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		verr := &apierr.ValidationError{}
		verr.Add("body", "request body must be a JSON object")
		return features.Passenger{}, nil, verr
	}

	verr := &apierr.ValidationError{}
	var p features.Passenger

	for name := range raw {
		if !knownFields[name] {
			verr.Add(name, "unknown field")
		}
	}

	if n, ok := requireInt(raw, "pclass", verr); ok {
		if n < 1 || n > 3 {
			verr.Add("pclass", "must be 1, 2 or 3")
		} else {
			p.Pclass = n
		}
	}

	if s, ok := requireString(raw, "sex", verr); ok {
		if s != "male" && s != "female" {
			verr.Add("sex", `must be "male" or "female"`)
		} else {
			p.Sex = s
		}
	}

	if n, ok := optionalInt(raw, "sibsp", verr); ok {
		if n < 0 || n > maxSibSp {
			verr.Add("sibsp", fmt.Sprintf("must be between 0 and %d", maxSibSp))
		} else {
			p.SibSp = n
		}
	}

	if n, ok := optionalInt(raw, "parch", verr); ok {
		if n < 0 || n > maxParch {
			verr.Add("parch", fmt.Sprintf("must be between 0 and %d", maxParch))
		} else {
			p.Parch = n
		}
	}

	if f, ok := optionalFloat(raw, "age", verr); ok {
		if f < 0 || f > maxAge {
			verr.Add("age", fmt.Sprintf("must be between 0 and %d", maxAge))
		} else {
			p.Age = &f
		}
	}

	if f, ok := optionalFloat(raw, "fare", verr); ok {
		if f < 0 || f > maxFare {
			verr.Add("fare", fmt.Sprintf("must be between 0 and %d", maxFare))
		} else {
			p.Fare = &f
		}
	}

	if s, ok := optionalString(raw, "embarked", verr); ok {
		if s != "C" && s != "Q" && s != "S" {
			verr.Add("embarked", `must be "C", "Q" or "S"`)
		} else {
			p.Embarked = s
		}
	}

	if !verr.Empty() {
		return features.Passenger{}, nil, verr
	}

	return p, anomalies(p), nil
}

// anomalies flags well-formed input that is statistically unusual. Rough
// heuristics carried over from the training data distribution.
func anomalies(p features.Passenger) []string {
	var found []string

	fare := -1.0
	if p.Fare != nil {
		fare = *p.Fare
	}
	age := -1.0
	if p.Age != nil {
		age = *p.Age
	}

	if fare == 0 {
		found = append(found, "zero_fare")
	}
	if age >= 0 && age < 12 && fare > 100 {
		found = append(found, "child_high_fare")
	}
	if p.SibSp+p.Parch+1 > 10 {
		found = append(found, "large_family_size")
	}
	if p.Pclass == 1 && fare >= 0 && fare < 20 {
		found = append(found, "first_class_low_fare")
	}
	if p.Pclass == 3 && fare > 100 {
		found = append(found, "third_class_high_fare")
	}

	return found
}

func requireInt(raw map[string]json.RawMessage, field string, verr *apierr.ValidationError) (int, bool) {
	msg, ok := raw[field]
	if !ok {
		verr.Add(field, "required")
		return 0, false
	}
	return parseInt(msg, field, verr)
}

func optionalInt(raw map[string]json.RawMessage, field string, verr *apierr.ValidationError) (int, bool) {
	msg, ok := raw[field]
	if !ok || string(msg) == "null" {
		return 0, false
	}
	return parseInt(msg, field, verr)
}

func parseInt(msg json.RawMessage, field string, verr *apierr.ValidationError) (int, bool) {
	var n json.Number
	if err := json.Unmarshal(msg, &n); err != nil {
		verr.Add(field, "must be an integer")
		return 0, false
	}
	i, err := n.Int64()
	if err != nil {
		verr.Add(field, "must be an integer")
		return 0, false
	}
	return int(i), true
}

func optionalFloat(raw map[string]json.RawMessage, field string, verr *apierr.ValidationError) (float64, bool) {
	msg, ok := raw[field]
	if !ok || string(msg) == "null" {
		return 0, false
	}
	var n json.Number
	if err := json.Unmarshal(msg, &n); err != nil {
		verr.Add(field, "must be numeric")
		return 0, false
	}
	f, err := n.Float64()
	if err != nil {
		verr.Add(field, "must be numeric")
		return 0, false
	}
	return f, true
}

func requireString(raw map[string]json.RawMessage, field string, verr *apierr.ValidationError) (string, bool) {
	msg, ok := raw[field]
	if !ok {
		verr.Add(field, "required")
		return "", false
	}
	return parseString(msg, field, verr)
}

func optionalString(raw map[string]json.RawMessage, field string, verr *apierr.ValidationError) (string, bool) {
	msg, ok := raw[field]
	if !ok || string(msg) == "null" {
		return "", false
	}
	return parseString(msg, field, verr)
}

func parseString(msg json.RawMessage, field string, verr *apierr.ValidationError) (string, bool) {
	var s string
	if err := json.Unmarshal(msg, &s); err != nil {
		verr.Add(field, "must be a string")
		return "", false
	}

	s = strings.TrimSpace(s)
	switch {
	case s == "":
		verr.Add(field, "cannot be empty")
		return "", false
	case len(s) > maxFieldBytes:
		verr.Add(field, fmt.Sprintf("must be at most %d characters", maxFieldBytes))
		return "", false
	case controlChars.MatchString(s):
		verr.Add(field, "contains invalid characters")
		return "", false
	case sqlMeta.MatchString(s) || xssMeta.MatchString(s):
		verr.Add(field, "contains invalid content")
		return "", false
	}

	return s, true
}
