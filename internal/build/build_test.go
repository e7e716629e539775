package build

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	forward := []Status{StatusQueued, StatusFetching, StatusBuilding, StatusPublishing, StatusSucceeded}
	for i := 0; i < len(forward)-1; i++ {
		assert.True(t, CanTransition(forward[i], forward[i+1]), "%s -> %s", forward[i], forward[i+1])
	}

	for _, s := range []Status{StatusQueued, StatusFetching, StatusBuilding, StatusPublishing} {
		assert.True(t, CanTransition(s, StatusFailed), "%s -> failed", s)
		assert.True(t, CanTransition(s, StatusCancelled), "%s -> cancelled", s)
	}

	rejected := [][2]Status{
		{StatusQueued, StatusBuilding},
		{StatusQueued, StatusSucceeded},
		{StatusFetching, StatusPublishing},
		{StatusBuilding, StatusSucceeded},
		{StatusBuilding, StatusFetching},
		{StatusSucceeded, StatusFailed},
		{StatusFailed, StatusQueued},
		{StatusCancelled, StatusCancelled},
	}
	for _, r := range rejected {
		assert.False(t, CanTransition(r[0], r[1]), "%s -> %s", r[0], r[1])
	}
}

func TestStatusPredicates(t *testing.T) {
	assert.True(t, StatusSucceeded.IsTerminal())
	assert.True(t, StatusCancelled.IsTerminal())
	assert.False(t, StatusPublishing.IsTerminal())
	assert.True(t, StatusBuilding.IsActive())
	assert.False(t, StatusQueued.IsActive())
	assert.False(t, Status("paused").Valid())
	assert.Less(t, StatusBuilding.Rank(), StatusPublishing.Rank())
}

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"My Cool App":        "my-cool-app",
		"  Crème Brûlée!! ":  "creme-brulee",
		"über__app--2":       "uber-app-2",
		"日本語":                "app",
		"":                   "app",
		"a/b\\c":             "a-b-c",
		"---already-slug---": "already-slug",
	}
	for in, want := range cases {
		assert.Equal(t, want, Slugify(in), "Slugify(%q)", in)
	}

	long := Slugify("aaaaaaaaaa bbbbbbbbbb cccccccccc dddddddddd eeeeeeeeee ffffffffff")
	assert.LessOrEqual(t, len(long), maxSlugLen)
	assert.NotEqual(t, '-', rune(long[len(long)-1]))
}

func TestStatusEventUsesErrorAsMessage(t *testing.T) {
	b := &Build{ID: "b1", AppID: "a1", Status: StatusFailed, ErrorKind: "StepFailed", Error: "compile exited 1", LastSeq: 9}
	ev := StatusEvent(b)
	assert.True(t, ev.IsTerminal())
	assert.Equal(t, "compile exited 1", ev.Message)
	assert.Equal(t, int64(9), ev.Seq)

	b.Status = StatusFetching
	b.Error = ""
	assert.Equal(t, "Fetching source", StatusEvent(b).Message)
}
