package triage

import "github.com/edflow/backend/internal/models"

// Scores is a per-class score vector indexed by acuity rank.
type Scores [models.NumAcuities]float64

// Keywords holds one keyword list per class, indexed by acuity rank.
type Keywords [models.NumAcuities][]string

// DefaultKeywords is the Manchester keyword table.
var DefaultKeywords = Keywords{
	models.Red: {
		"cardiac arrest", "severe bleeding", "unconscious", "not breathing",
		"severe trauma", "anaphylaxis", "severe burns", "stroke symptoms",
	},
	models.Orange: {
		"chest pain", "difficulty breathing", "severe pain", "high fever",
		"sepsis", "severe headache", "seizure", "severe vomiting",
	},
	models.Yellow: {
		"moderate pain", "abdominal pain", "fever", "headache",
		"nausea", "dizziness", "rash", "cough",
	},
	models.Green: {
		"mild pain", "minor cut", "bruise", "cold symptoms",
		"sore throat", "minor burn", "sprain",
	},
	models.Blue: {
		"minor headache", "mild rash", "minor scrape", "fatigue",
		"mild nausea", "minor ache",
	},
}

// ClassWeights is the contribution of a symptom matched to each class.
var ClassWeights = Scores{1.0, 0.8, 0.6, 0.4, 0.2}

// HistoryRiskTerms raise the urgent classes when found in a patient's history.
var HistoryRiskTerms = []string{"heart", "diabetes", "cancer", "surgery", "chronic"}

const (
	highConfidence   = 0.7
	mediumConfidence = 0.5
	runnerUpFloor    = 0.3
)
