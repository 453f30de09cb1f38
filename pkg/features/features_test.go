package features

import (
	"errors"
	"testing"

	"github.com/voyagekit/lifeboat/pkg/artifacts"
)

var testStats = artifacts.Stats{
	AgeMedian:    28,
	FareMedian:   14.45,
	EmbarkedMode: "S",
}

var testColumns = []string{
	"pclass", "sex", "age", "sibsp", "parch", "fare",
	"embarked", "family_size", "is_alone", "age_group",
}

func floatPtr(f float64) *float64 { return &f }

func TestNewTransformer_UnknownColumn(t *testing.T) {
	_, err := NewTransformer([]string{"pclass", "cabin_deck"}, testStats)
	if err == nil {
		t.Fatal("NewTransformer() with unknown column should fail")
	}

	var terr *TransformError
	if !errors.As(err, &terr) {
		t.Fatalf("error = %v, want *TransformError", err)
	}
	if terr.Column != "cabin_deck" {
		t.Errorf("TransformError.Column = %q, want %q", terr.Column, "cabin_deck")
	}
}

func TestTransform_ManifestOrder(t *testing.T) {
	tr, err := NewTransformer(testColumns, testStats)
	if err != nil {
		t.Fatalf("NewTransformer() error = %v", err)
	}

	p := Passenger{
		Pclass:   1,
		Sex:      "female",
		Age:      floatPtr(38),
		SibSp:    1,
		Parch:    0,
		Fare:     floatPtr(71.28),
		Embarked: "C",
	}

	got, err := tr.Transform(p)
	if err != nil {
		t.Fatalf("Transform() error = %v", err)
	}

	want := []float64{1, 0, 38, 1, 0, 71.28, 0, 2, 0, 2}
	if len(got) != len(want) {
		t.Fatalf("Transform() returned %d features, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("feature %q = %v, want %v", testColumns[i], got[i], want[i])
		}
	}
}

func TestTransform_ReorderedManifest(t *testing.T) {
	tr, err := NewTransformer([]string{"sex", "pclass"}, testStats)
	if err != nil {
		t.Fatalf("NewTransformer() error = %v", err)
	}

	got, err := tr.Transform(Passenger{Pclass: 3, Sex: "male"})
	if err != nil {
		t.Fatalf("Transform() error = %v", err)
	}
	if got[0] != 1 || got[1] != 3 {
		t.Errorf("Transform() = %v, want [1 3] (manifest order, not struct order)", got)
	}
}

func TestTransform_Imputation(t *testing.T) {
	tr, err := NewTransformer(testColumns, testStats)
	if err != nil {
		t.Fatalf("NewTransformer() error = %v", err)
	}

	// No age, fare or embarkation point: all three imputed.
	got, err := tr.Transform(Passenger{Pclass: 3, Sex: "male"})
	if err != nil {
		t.Fatalf("Transform() error = %v", err)
	}

	if got[2] != testStats.AgeMedian {
		t.Errorf("imputed age = %v, want median %v", got[2], testStats.AgeMedian)
	}
	if got[5] != testStats.FareMedian {
		t.Errorf("imputed fare = %v, want median %v", got[5], testStats.FareMedian)
	}
	if got[6] != 2 { // "S"
		t.Errorf("imputed embarked = %v, want 2 (S)", got[6])
	}
}

func TestTransform_FamilyDerivation(t *testing.T) {
	tr, err := NewTransformer([]string{"family_size", "is_alone"}, testStats)
	if err != nil {
		t.Fatalf("NewTransformer() error = %v", err)
	}

	tests := []struct {
		name           string
		sibsp, parch   int
		wantFamilySize float64
		wantIsAlone    float64
	}{
		{"alone", 0, 0, 1, 1},
		{"spouse only", 1, 0, 2, 0},
		{"large family", 4, 3, 8, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tr.Transform(Passenger{Pclass: 3, Sex: "male", SibSp: tt.sibsp, Parch: tt.parch})
			if err != nil {
				t.Fatalf("Transform() error = %v", err)
			}
			if got[0] != tt.wantFamilySize {
				t.Errorf("family_size = %v, want %v", got[0], tt.wantFamilySize)
			}
			if got[1] != tt.wantIsAlone {
				t.Errorf("is_alone = %v, want %v", got[1], tt.wantIsAlone)
			}
		})
	}
}

func TestAgeGroup_Boundaries(t *testing.T) {
	tests := []struct {
		age  float64
		want float64
	}{
		{0, 0},
		{17.9, 0},
		{18, 1},
		{34.9, 1},
		{35, 2},
		{59.9, 2},
		{60, 3},
		{90, 3},
	}

	for _, tt := range tests {
		if got := ageGroup(tt.age); got != tt.want {
			t.Errorf("ageGroup(%v) = %v, want %v", tt.age, got, tt.want)
		}
	}
}

func TestTransform_DoesNotMutateInput(t *testing.T) {
	tr, err := NewTransformer(testColumns, testStats)
	if err != nil {
		t.Fatalf("NewTransformer() error = %v", err)
	}

	age := 40.0
	p := Passenger{Pclass: 2, Sex: "female", Age: &age}
	if _, err := tr.Transform(p); err != nil {
		t.Fatalf("Transform() error = %v", err)
	}
	if age != 40.0 || *p.Age != 40.0 {
		t.Error("Transform() mutated its input")
	}
}
