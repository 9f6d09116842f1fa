package calendar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestFixedHolidays(t *testing.T) {
	c := New([]int{2026}, "")
	assert.True(t, c.IsHoliday(date("2026-01-25")))
	assert.True(t, c.IsHoliday(date("2026-07-09")))
	assert.True(t, c.IsHoliday(date("2026-11-20")))
	assert.True(t, c.IsHoliday(date("2026-12-24")))
	assert.True(t, c.IsHoliday(date("2026-12-31")))
}

func TestEasterDerivedHolidays2026(t *testing.T) {
	// Easter 2026 is April 5.
	c := New([]int{2026}, "")
	assert.True(t, c.IsHoliday(date("2026-02-16"))) // Carnaval Monday, Easter-48
	assert.True(t, c.IsHoliday(date("2026-02-17"))) // Carnaval Tuesday, Easter-47
	assert.True(t, c.IsHoliday(date("2026-04-03"))) // Good Friday, Easter-2
	assert.True(t, c.IsHoliday(date("2026-06-04"))) // Corpus Christi, Easter+60
}

func TestSpecialClosures(t *testing.T) {
	c := New([]int{2026}, "2026-03-10:local test closure")
	assert.True(t, c.IsHoliday(date("2026-03-10")))
}

func TestWeekendNotBusinessDay(t *testing.T) {
	c := New([]int{2026}, "")
	assert.False(t, c.IsBusinessDay(date("2026-08-01"))) // Saturday
}

func TestPreviousBusinessDay(t *testing.T) {
	c := New([]int{2026}, "")
	// Jan 1 2026 is a Thursday holiday; Dec 31 2025 is a Wednesday holiday.
	c2 := New([]int{2025, 2026}, "")
	prev := c2.PreviousBusinessDay(date("2026-01-01"))
	assert.True(t, c2.IsBusinessDay(prev))
	assert.True(t, prev.Before(date("2026-01-01")))
	_ = c
}

func TestBusinessDaysRange(t *testing.T) {
	c := New([]int{2026}, "")
	days := c.BusinessDays(date("2026-08-03"), date("2026-08-07"))
	require.Len(t, days, 5)
	for _, d := range days {
		assert.True(t, c.IsBusinessDay(d))
	}
}
