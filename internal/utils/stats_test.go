package utils

import "testing"

func TestMeanMedian(t *testing.T) {
	if Mean(nil) != 0 || Median(nil) != 0 {
		t.Fatalf("expected zero for empty input")
	}
	values := []float64{4, 1, 3, 2}
	if got := Mean(values); got != 2.5 {
		t.Fatalf("expected mean 2.5, got %v", got)
	}
	if got := Median(values); got != 2.5 {
		t.Fatalf("expected median 2.5, got %v", got)
	}
	if got := Median([]float64{9, 1, 5}); got != 5 {
		t.Fatalf("expected median 5, got %v", got)
	}
	if values[0] != 4 {
		t.Fatalf("input must not be reordered")
	}
}

func TestPercentileAndMax(t *testing.T) {
	values := []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100}
	if got := Percentile(values, 90); got != 90 {
		t.Fatalf("expected p90=90, got %v", got)
	}
	if got := Percentile(values, 0); got != 10 {
		t.Fatalf("expected p0=10, got %v", got)
	}
	if got := Max(values); got != 100 {
		t.Fatalf("expected max 100, got %v", got)
	}
	if got := Round(2.34567, 2); got != 2.35 {
		t.Fatalf("expected 2.35, got %v", got)
	}
}
