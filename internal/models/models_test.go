package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcuityOrderAndMetadata(t *testing.T) {
	for i := 1; i < len(Acuities); i++ {
		assert.True(t, Acuities[i-1].MoreUrgent(Acuities[i]))
		assert.Less(t, Acuities[i-1].Rank(), Acuities[i].Rank())
	}

	waits := []int{0, 10, 60, 120, 240}
	labels := []string{"red", "orange", "yellow", "green", "blue"}
	for i, a := range Acuities {
		assert.Equal(t, waits[i], a.MaxWait())
		assert.Equal(t, labels[i], a.Label())
		assert.NotEmpty(t, a.DisplayName())
		assert.NotEmpty(t, a.Description())
	}
	assert.Equal(t, "R", Red.String())
	assert.Equal(t, "?", Acuity(9).String())
}

func TestAcuityBump(t *testing.T) {
	assert.Equal(t, Red, Red.Bump())
	assert.Equal(t, Red, Orange.Bump())
	assert.Equal(t, Green, Blue.Bump())
}

func TestParseAcuity(t *testing.T) {
	a, err := ParseAcuity("y")
	require.NoError(t, err)
	assert.Equal(t, Yellow, a)

	a, err = ParseAcuity(" Orange ")
	require.NoError(t, err)
	assert.Equal(t, Orange, a)

	_, err = ParseAcuity("purple")
	require.Error(t, err)
	assert.True(t, IsConfigError(err))
}

func TestSymptomSetSorted(t *testing.T) {
	s := NewSymptomSet("Cough", "fever", " cough", "")
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, []string{"cough", "fever"}, s.Sorted())
	assert.True(t, s.Contains("COUGH"))
}

func TestEventWireFormat(t *testing.T) {
	start := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	e := Event{
		Time:         12.5,
		RealTime:     start.Add(750 * time.Second),
		Type:         EventQueueJoin,
		PatientID:    3,
		PatientName:  "Patient 3",
		ResourceID:   "bed",
		ResourceName: "Beds",
		Acuity:       AcuityPtr(Yellow),
		Details:      map[string]any{"queue_position": 2, "total_in_queue": 4},
	}
	b, err := json.Marshal(e)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"timestamp": 12.5,
		"real_time": "2024-01-01T08:12:30.000Z",
		"event_type": "QUEUE_JOIN",
		"patient_name": "Patient 3",
		"resource_name": "Beds",
		"priority": "yellow",
		"details": {"queue_position": 2, "total_in_queue": 4}
	}`, string(b))

	var back Event
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, EventQueueJoin, back.Type)
	require.NotNil(t, back.Acuity)
	assert.Equal(t, Yellow, *back.Acuity)
	assert.True(t, back.RealTime.Equal(e.RealTime))
}

func TestEventWireNulls(t *testing.T) {
	b, err := json.Marshal(Event{Type: EventStatus, PatientName: SystemName})
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(b, &raw))
	assert.Nil(t, raw["resource_name"])
	assert.Nil(t, raw["priority"])
	assert.Equal(t, map[string]any{}, raw["details"])
}

func TestErrorsMatch(t *testing.T) {
	var err error = &InvariantViolation{Time: 1, Resource: "bed", PatientID: 2, Reason: "over capacity"}
	assert.True(t, IsInvariantViolation(err))
	assert.False(t, IsConfigError(err))
	assert.Contains(t, err.Error(), "over capacity")
}
