package messaging

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edflow/backend/internal/models"
)

type recordingPublisher struct {
	subjects []string
	payloads [][]byte
	fail     bool
}

func (r *recordingPublisher) Publish(subject string, data []byte) error {
	if r.fail {
		return errors.New("nats: connection closed")
	}
	r.subjects = append(r.subjects, subject)
	r.payloads = append(r.payloads, data)
	return nil
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "edsim.events.arrival", Subject("", models.EventArrival))
	assert.Equal(t, "er.bed_discharge", Subject("er", models.EventBedDischarge))
}

func TestEventSinkPublishes(t *testing.T) {
	pub := &recordingPublisher{}
	sink := NewEventSink(pub, DefaultPrefix, "run-1")

	require.NoError(t, sink.Write(models.Event{Time: 2, Type: models.EventQueueJoin, PatientName: "Patient 4", ResourceName: "MRI", Acuity: models.AcuityPtr(models.Red)}))
	require.NoError(t, sink.Write(models.Event{Time: 60, Type: models.EventStatus, PatientName: models.SystemName}))

	assert.Equal(t, []string{"edsim.events.queue_join", "edsim.events.status"}, pub.subjects)
	assert.Equal(t, 2, sink.Published())

	var msg struct {
		RunID string                     `json:"run_id"`
		Event map[string]json.RawMessage `json:"event"`
	}
	require.NoError(t, json.Unmarshal(pub.payloads[0], &msg))
	assert.Equal(t, "run-1", msg.RunID)
	assert.JSONEq(t, `"red"`, string(msg.Event["priority"]))
	assert.JSONEq(t, `"MRI"`, string(msg.Event["resource_name"]))
}

func TestEventSinkIsBestEffort(t *testing.T) {
	sink := NewEventSink(&recordingPublisher{fail: true}, "", "run-2")
	assert.NoError(t, sink.Write(models.Event{Type: models.EventArrival}))
	assert.NoError(t, sink.Write(models.Event{Type: models.EventDischarge}))
	assert.Equal(t, 2, sink.Failed())
	assert.Zero(t, sink.Published())
	require.Error(t, sink.Err())
	assert.Contains(t, sink.Err().Error(), "ARRIVAL")
}

func TestClientWithoutConnection(t *testing.T) {
	var c Client
	assert.False(t, c.IsConnected())
	assert.Zero(t, c.Reconnects())
	assert.Error(t, c.Publish("edsim.events.arrival", nil))
	assert.NoError(t, c.Close())
}
