package filter

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

const selfJID = "447700900000:12@s.whatsapp.net"

func newTestFilter(groups ...string) *Filter {
	return New(Options{
		TriggerPrefix:  "!cscc",
		MentionTrigger: true,
		AllowedGroups:  groups,
		Burst:          3,
		Window:         time.Minute,
	})
}

func TestDedupIdempotent(t *testing.T) {
	f := newTestFilter()

	ok, outcome := f.ShouldProcess("123@g.us", "!cscc fixtures", true, "MSG1", selfJID)
	assert.True(t, ok)
	assert.Equal(t, OutcomeAccepted, outcome)

	ok, outcome = f.ShouldProcess("123@g.us", "!cscc fixtures", true, "MSG1", selfJID)
	assert.False(t, ok)
	assert.Equal(t, OutcomeDuplicate, outcome)
}

func TestDedupScopedPerChat(t *testing.T) {
	f := newTestFilter()

	ok, _ := f.ShouldProcess("123@g.us", "!cscc hi", true, "MSG1", selfJID)
	assert.True(t, ok)
	ok, _ = f.ShouldProcess("456@g.us", "!cscc hi", true, "MSG1", selfJID)
	assert.True(t, ok, "same message id in a different chat is not a duplicate")
}

func TestAllowListEnforced(t *testing.T) {
	f := newTestFilter("123@g.us")

	ok, outcome := f.ShouldProcess("999@g.us", "!cscc fixtures", true, "M1", selfJID)
	assert.False(t, ok)
	assert.Equal(t, OutcomeGroupBlocked, outcome)

	ok, _ = f.ShouldProcess("123@g.us", "!cscc fixtures", true, "M2", selfJID)
	assert.True(t, ok)
}

func TestAllowListIgnoredForDirectChats(t *testing.T) {
	f := newTestFilter("123@g.us")

	ok, _ := f.ShouldProcess("447700900123@s.whatsapp.net", "!cscc hi", false, "M1", selfJID)
	assert.True(t, ok, "allow-list applies to groups only")
}

func TestEmptyAllowListAcceptsAllGroups(t *testing.T) {
	f := newTestFilter()
	ok, _ := f.ShouldProcess("anything@g.us", "!cscc hi", true, "M1", selfJID)
	assert.True(t, ok)
}

func TestTriggerRequired(t *testing.T) {
	f := newTestFilter()

	ok, outcome := f.ShouldProcess("123@g.us", "what time is training?", true, "M1", selfJID)
	assert.False(t, ok)
	assert.Equal(t, OutcomeNoTrigger, outcome)
}

func TestTriggerCaseInsensitive(t *testing.T) {
	f := newTestFilter()
	ok, _ := f.ShouldProcess("123@g.us", "!CSCC fixtures", true, "M1", selfJID)
	assert.True(t, ok)
}

func TestMentionTrigger(t *testing.T) {
	f := newTestFilter()
	ok, _ := f.ShouldProcess("123@g.us", "hey @447700900000 fixtures?", true, "M1", selfJID)
	assert.True(t, ok)
}

func TestMentionTriggerDisabled(t *testing.T) {
	f := New(Options{TriggerPrefix: "!cscc", MentionTrigger: false})
	ok, outcome := f.ShouldProcess("123@g.us", "hey @447700900000 fixtures?", true, "M1", selfJID)
	assert.False(t, ok)
	assert.Equal(t, OutcomeNoTrigger, outcome)
}

func TestRateLimitBoundary(t *testing.T) {
	f := newTestFilter()

	for i := 0; i < 3; i++ {
		ok, _ := f.ShouldProcess("123@g.us", "!cscc hi", true, fmt.Sprintf("M%d", i), selfJID)
		assert.True(t, ok, "message %d within burst", i)
	}

	ok, outcome := f.ShouldProcess("123@g.us", "!cscc hi", true, "M4", selfJID)
	assert.False(t, ok)
	assert.Equal(t, OutcomeRateLimited, outcome)

	// Another chat is limited independently.
	ok, _ = f.ShouldProcess("456@g.us", "!cscc hi", true, "M5", selfJID)
	assert.True(t, ok)
}

func TestRateLimitNewWindow(t *testing.T) {
	f := New(Options{
		TriggerPrefix: "!cscc",
		Burst:         3,
		Window:        10 * time.Millisecond,
	})

	for i := 0; i < 3; i++ {
		ok, _ := f.ShouldProcess("123@g.us", "!cscc hi", true, fmt.Sprintf("A%d", i), selfJID)
		assert.True(t, ok)
	}
	ok, _ := f.ShouldProcess("123@g.us", "!cscc hi", true, "A4", selfJID)
	assert.False(t, ok)

	time.Sleep(15 * time.Millisecond)

	ok, _ = f.ShouldProcess("123@g.us", "!cscc hi", true, "A5", selfJID)
	assert.True(t, ok, "new window admits messages again")
}

func TestCleanMessage(t *testing.T) {
	f := newTestFilter()

	assert.Equal(t, "list fixtures", f.CleanMessage("!cscc list fixtures", selfJID))
	assert.Equal(t, "list fixtures", f.CleanMessage("  !CSCC   list fixtures  ", selfJID))
	assert.Equal(t, "fixtures", f.CleanMessage("@447700900000 fixtures", selfJID))
	assert.Equal(t, "fixtures", f.CleanMessage("!cscc @447700900000 fixtures", selfJID))
	assert.Equal(t, "", f.CleanMessage("!cscc", selfJID))
	assert.Equal(t, "", f.CleanMessage("!cscc   ", selfJID))
}

func TestUpdateAllowedGroups(t *testing.T) {
	f := newTestFilter("123@g.us")
	assert.False(t, f.IsGroupAllowed("999@g.us"))

	f.UpdateAllowedGroups([]string{"999@g.us"})
	assert.True(t, f.IsGroupAllowed("999@g.us"))
	assert.False(t, f.IsGroupAllowed("123@g.us"))

	f.UpdateAllowedGroups(nil)
	assert.True(t, f.IsGroupAllowed("123@g.us"), "empty allow-list allows all")
}

func TestStatsAndClearCaches(t *testing.T) {
	f := newTestFilter()

	f.ShouldProcess("123@g.us", "!cscc one", true, "M1", selfJID)
	f.ShouldProcess("456@g.us", "!cscc two", true, "M2", selfJID)

	stats := f.Stats()
	assert.Equal(t, 2, stats.DedupEntries)
	assert.Equal(t, 2, stats.RateLimitEntries)

	f.ClearCaches()
	stats = f.Stats()
	assert.Zero(t, stats.DedupEntries)
	assert.Zero(t, stats.RateLimitEntries)

	// Cleared cache forgets duplicates.
	ok, _ := f.ShouldProcess("123@g.us", "!cscc one", true, "M1", selfJID)
	assert.True(t, ok)
}

func TestSweepEvictsStaleEntries(t *testing.T) {
	f := New(Options{
		TriggerPrefix: "!cscc",
		DedupTTL:      10 * time.Millisecond,
		Window:        10 * time.Millisecond,
	})

	f.ShouldProcess("123@g.us", "!cscc hi", true, "M1", selfJID)
	assert.Equal(t, 1, f.Stats().DedupEntries)

	time.Sleep(15 * time.Millisecond)
	f.sweep(time.Now())

	stats := f.Stats()
	assert.Zero(t, stats.DedupEntries)
	assert.Zero(t, stats.RateLimitEntries)
}
