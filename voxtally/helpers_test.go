package voxtally

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonthKey(t *testing.T) {
	assert.Equal(
		t,
		"2024-04",
		monthKey(time.Date(2024, time.April, 15, 12, 0, 0, 0, time.UTC)),
	)
	assert.Equal(
		t,
		"2024-12",
		monthKey(time.Date(2024, time.December, 31, 23, 59, 0, 0, time.UTC)),
	)
}

func TestPreviousMonthKey(t *testing.T) {
	assert.Equal(
		t,
		"2025-04",
		previousMonthKey(time.Date(2025, time.May, 1, 0, 0, 0, 0, time.UTC)),
	)
	assert.Equal(
		t,
		"2025-04",
		previousMonthKey(time.Date(2025, time.May, 31, 23, 59, 0, 0, time.UTC)),
	)
	// year boundary
	assert.Equal(
		t,
		"2024-12",
		previousMonthKey(time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)),
	)
}

func TestHumanMonth(t *testing.T) {
	readable, err := humanMonth("2024-04")
	require.NoError(t, err)
	assert.Equal(t, "April 2024", readable)

	_, err = humanMonth("not-a-month")
	require.Error(t, err)
}

func TestHumanDate(t *testing.T) {
	readable, err := humanDate("2025-04-18")
	require.NoError(t, err)
	assert.Equal(t, "April 18, 2025", readable)

	_, err = humanDate("April 18, 2025")
	require.Error(t, err)
}

func TestPluralMinutes(t *testing.T) {
	assert.Equal(t, "0 minutes", pluralMinutes(0))
	assert.Equal(t, "1 minute", pluralMinutes(1))
	assert.Equal(t, "2 minutes", pluralMinutes(2))
	assert.Equal(t, "61 minutes", pluralMinutes(61))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab", truncate("abcde", 2))
	assert.Equal(t, "héllo", truncate("héllo!", 5))
}
