package chat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGroupByDay(t *testing.T) {
	assert := assert.New(t)

	day1 := time.Date(2026, 8, 29, 23, 50, 0, 0, time.UTC)
	day2 := time.Date(2026, 8, 30, 0, 5, 0, 0, time.UTC)
	msgs := []Message{
		{ID: "m-1", CreatedAt: day1},
		{ID: "m-2", CreatedAt: day1.Add(5 * time.Minute)},
		{ID: "m-3", CreatedAt: day2},
	}

	groups := GroupByDay(msgs)
	assert.Equal(2, len(groups))
	assert.Equal(time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC), groups[0].Date)
	assert.Equal(2, len(groups[0].Messages))
	assert.Equal(time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC), groups[1].Date)
	assert.Equal("m-3", groups[1].Messages[0].ID)
}

func TestGroupByDayEmpty(t *testing.T) {
	assert.Nil(t, GroupByDay(nil))
}

func TestProjectionMemoizesOnVersion(t *testing.T) {
	assert := assert.New(t)
	s := NewStore(selfID)
	p := NewProjection(s)

	assert.Empty(p.Groups())

	s.Reconcile(serverMsg("m-1", "", "hello", 2, time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)))
	first := p.Groups()
	assert.Equal(1, len(first))

	// No mutation in between, the same backing slice comes back.
	second := p.Groups()
	assert.Same(&first[0], &second[0])

	s.Reconcile(serverMsg("m-2", "", "more", 2, time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC)))
	assert.Equal(2, len(p.Groups()))
}
