package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageRecord_State(t *testing.T) {
	ts := int64(5)

	m := &MessageRecord{}
	assert.Equal(t, StatePending, m.State())

	m.TimestampRecordID = &ts
	assert.Equal(t, StateTimestamped, m.State())

	m.Archived = true
	assert.Equal(t, StateArchived, m.State())
	assert.Equal(t, "archived", m.State().String())
}

func TestLogRecord_Variants(t *testing.T) {
	records := []LogRecord{
		&MessageRecord{Envelope: Envelope{ID: 1}},
		&TimestampRecord{Envelope: Envelope{ID: 2}},
	}
	kinds := make([]Kind, 0, len(records))
	for _, r := range records {
		kinds = append(kinds, r.Kind())
		r.Base().Archived = true
	}
	assert.Equal(t, []Kind{KindMessage, KindTimestamp}, kinds)
	assert.True(t, records[0].(*MessageRecord).Archived)
	assert.True(t, records[1].(*TimestampRecord).Archived)
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("t")
	require.NoError(t, err)
	assert.Equal(t, KindTimestamp, k)

	_, err = ParseKind("x")
	assert.Error(t, err)
}

func TestGroupKey(t *testing.T) {
	m := &MessageRecord{MemberClass: "GOV", MemberCode: "123", SubsystemCode: "sub"}
	assert.Equal(t, "", m.GroupKey(GroupingNone))
	assert.Equal(t, "GOV/123", m.GroupKey(GroupingMember))
	assert.Equal(t, "GOV/123/sub", m.GroupKey(GroupingSubsystem))
}

func TestParseGrouping(t *testing.T) {
	g, err := ParseGrouping("")
	require.NoError(t, err)
	assert.Equal(t, GroupingNone, g)

	g, err = ParseGrouping("member")
	require.NoError(t, err)
	assert.Equal(t, GroupingMember, g)

	_, err = ParseGrouping("client")
	assert.Error(t, err)
}

func TestEnvelope_CreatedAt(t *testing.T) {
	now := time.UnixMilli(time.Now().UnixMilli())
	e := Envelope{Time: now.UnixMilli()}
	assert.True(t, now.Equal(e.CreatedAt()))
}
