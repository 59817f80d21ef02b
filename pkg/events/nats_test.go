package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	subjects []string
	payloads [][]byte
	err      error
}

func (f *fakePublisher) Publish(subject string, data []byte) error {
	if f.err != nil {
		return f.err
	}
	f.subjects = append(f.subjects, subject)
	f.payloads = append(f.payloads, data)
	return nil
}

func TestNATSSink_Deliver(t *testing.T) {
	pub := &fakePublisher{}
	sink := NewNATSSink(pub, "ninja")

	err := sink.Deliver(context.Background(), Event{Seq: 3, EntityType: EntityTask, EntityID: "t1", NewState: "failed"})
	require.NoError(t, err)

	require.Len(t, pub.subjects, 1)
	assert.Equal(t, "ninja.task.failed", pub.subjects[0])

	var got Event
	require.NoError(t, json.Unmarshal(pub.payloads[0], &got))
	assert.Equal(t, "t1", got.EntityID)
	assert.NoError(t, sink.Close())
}

func TestNATSSink_DefaultPrefixAndErrors(t *testing.T) {
	pub := &fakePublisher{err: errors.New("no responders")}
	sink := NewNATSSink(pub, "")

	e := Event{EntityType: EntityAgent, NewState: "idle"}
	assert.Equal(t, "superninja.agent.idle", sink.Subject(e))
	assert.Error(t, sink.Deliver(context.Background(), e))
}
