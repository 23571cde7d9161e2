package respcache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askdb-dev/askdb/pkg/execguard"
	"github.com/askdb-dev/askdb/pkg/logger"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := New(&Config{Logger: logger.NewTest(), TTL: time.Minute})
	require.NoError(t, err)
	return c
}

func testEntry() Entry {
	return Entry{
		Answer:    "There were 12 admissions yesterday.",
		Statement: "SELECT count(*) FROM admissions",
		Result:    &execguard.Result{Success: true, RowCount: 1, Complete: true},
	}
}

func TestCache_HitOnIdenticalNormalizedText(t *testing.T) {
	c := newTestCache(t)
	c.Set("How many admissions yesterday?", "v1", testEntry())

	// Same question, different whitespace and casing.
	entry, ok := c.Get("  how   many admissions YESTERDAY?  ", "v1")
	require.True(t, ok)
	assert.Equal(t, "There were 12 admissions yesterday.", entry.Answer)
}

func TestCache_MissOnDifferentQuestion(t *testing.T) {
	c := newTestCache(t)
	c.Set("How many admissions yesterday?", "v1", testEntry())

	_, ok := c.Get("How many discharges yesterday?", "v1")
	assert.False(t, ok)
}

func TestCache_SchemaVersionChangeInvalidatesEverything(t *testing.T) {
	c := newTestCache(t)
	c.Set("q1", "v1", testEntry())
	c.Set("q2", "v1", testEntry())

	// A request under the new version flushes the old entries.
	_, ok := c.Get("q1", "v2")
	assert.False(t, ok)

	// Even going back to the old version finds nothing.
	_, ok = c.Get("q1", "v1")
	assert.False(t, ok)
}

func TestCache_InvalidateDropsAll(t *testing.T) {
	c := newTestCache(t)
	c.Set("q1", "v1", testEntry())

	c.Invalidate()

	_, ok := c.Get("q1", "v1")
	assert.False(t, ok)
}

func TestFingerprint_StableAcrossFormatting(t *testing.T) {
	a := Fingerprint("How many patients?", "v1")
	b := Fingerprint("  how MANY   patients?  ", "v1")
	cOther := Fingerprint("How many patients?", "v2")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, cOther)
}
