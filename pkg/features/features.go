// Package features maps validated passenger attributes to the ordered
// numeric feature vector the classifiers were trained on.
//
// The column order comes from the trainer's feature-column manifest and is
// a versioned contract: the transformer emits values strictly in manifest
// order and fails loudly on any column it does not know how to produce.
package features

import (
	"fmt"

	"github.com/voyagekit/lifeboat/pkg/artifacts"
)

// Passenger holds validated input attributes. Age, Fare and Embarked are
// optional; missing values are imputed from the training statistics.
type Passenger struct {
	Pclass   int
	Sex      string
	Age      *float64
	SibSp    int
	Parch    int
	Fare     *float64
	Embarked string
}

// Categorical encodings fixed by the trainer's label encoders
// (alphabetical class order).
var (
	sexCodes      = map[string]float64{"female": 0, "male": 1}
	embarkedCodes = map[string]float64{"C": 0, "Q": 1, "S": 2}
)

// TransformError reports a feature that could not be derived, typically a
// manifest column the transformer does not recognize.
type TransformError struct {
	Column string
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("cannot derive feature %q", e.Column)
}

// Transformer converts passengers to feature vectors. It is immutable and
// safe for concurrent use.
type Transformer struct {
	columns []string
	stats   artifacts.Stats
}

// NewTransformer builds a transformer for the given manifest order and
// imputation statistics. Every manifest column is checked up front so a
// manifest drift fails at load time, not per request.
func NewTransformer(columns []string, stats artifacts.Stats) (*Transformer, error) {
	t := &Transformer{columns: columns, stats: stats}

	probe := Passenger{Pclass: 3, Sex: "male", Embarked: "S"}
	if _, err := t.Transform(probe); err != nil {
		return nil, fmt.Errorf("manifest validation: %w", err)
	}

	return t, nil
}

// Columns returns the manifest column order.
func (t *Transformer) Columns() []string {
	out := make([]string, len(t.columns))
	copy(out, t.columns)
	return out
}

// Transform produces the feature vector in manifest order. Pure and
// deterministic; never mutates the input.
func (t *Transformer) Transform(p Passenger) ([]float64, error) {
	age := t.stats.AgeMedian
	if p.Age != nil {
		age = *p.Age
	}
	fare := t.stats.FareMedian
	if p.Fare != nil {
		fare = *p.Fare
	}
	embarked := p.Embarked
	if embarked == "" {
		embarked = t.stats.EmbarkedMode
	}

	familySize := float64(p.SibSp + p.Parch + 1)
	isAlone := 0.0
	if familySize == 1 {
		isAlone = 1.0
	}

	derived := map[string]float64{
		"pclass":      float64(p.Pclass),
		"sex":         sexCodes[p.Sex],
		"age":         age,
		"sibsp":       float64(p.SibSp),
		"parch":       float64(p.Parch),
		"fare":        fare,
		"embarked":    embarkedCodes[embarked],
		"family_size": familySize,
		"is_alone":    isAlone,
		"age_group":   ageGroup(age),
	}

	vector := make([]float64, len(t.columns))
	for i, col := range t.columns {
		v, ok := derived[col]
		if !ok {
			return nil, &TransformError{Column: col}
		}
		vector[i] = v
	}

	return vector, nil
}

// ageGroup buckets age the way the trainer did:
// 0=child (<18), 1=young adult (<35), 2=adult (<60), 3=senior.
func ageGroup(age float64) float64 {
	switch {
	case age < 18:
		return 0
	case age < 35:
		return 1
	case age < 60:
		return 2
	default:
		return 3
	}
}
