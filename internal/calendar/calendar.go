// Package calendar implements the B3 (São Paulo) trading calendar: fixed
// and Easter-derived national/municipal holidays, weekends, and a
// parameter-supplied list of special market closures.
package calendar

import (
	"strings"
	"time"
)

// Calendar knows which dates are B3 trading days.
type Calendar struct {
	holidays map[string]string // "YYYY-MM-DD" -> name
}

// New builds a Calendar for the given years, with additional special
// closures supplied as "YYYY-MM-DD:name,YYYY-MM-DD:name" (the
// SPECIAL_MARKET_CLOSURES parameter format).
func New(years []int, specialClosures string) *Calendar {
	c := &Calendar{holidays: make(map[string]string)}
	for _, y := range years {
		c.addFixedHolidays(y)
		c.addEasterHolidays(y)
	}
	c.addSpecialClosures(specialClosures)
	return c
}

func key(t time.Time) string {
	return t.Format("2006-01-02")
}

func (c *Calendar) addFixedHolidays(year int) {
	fixed := []struct {
		month time.Month
		day   int
		name  string
	}{
		{time.January, 1, "Confraternizacao Universal"},
		{time.January, 25, "Aniversario de Sao Paulo"},
		{time.April, 21, "Tiradentes"},
		{time.May, 1, "Dia do Trabalho"},
		{time.July, 9, "Revolucao Constitucionalista"},
		{time.September, 7, "Independencia do Brasil"},
		{time.October, 12, "Nossa Senhora Aparecida"},
		{time.November, 2, "Finados"},
		{time.November, 15, "Proclamacao da Republica"},
		{time.November, 20, "Consciencia Negra"},
		{time.December, 24, "Vespera de Natal"},
		{time.December, 25, "Natal"},
		{time.December, 31, "Vespera de Ano Novo"},
	}
	for _, h := range fixed {
		d := time.Date(year, h.month, h.day, 0, 0, 0, 0, time.UTC)
		c.holidays[key(d)] = h.name
	}
}

func (c *Calendar) addEasterHolidays(year int) {
	easter := computeEaster(year)
	derived := []struct {
		offset int
		name   string
	}{
		{-48, "Carnaval (Segunda)"},
		{-47, "Carnaval (Terca)"},
		{-2, "Sexta-feira Santa"},
		{60, "Corpus Christi"},
	}
	for _, h := range derived {
		d := easter.AddDate(0, 0, h.offset)
		c.holidays[key(d)] = h.name
	}
}

// computeEaster implements the anonymous Gregorian algorithm (Meeus/Jones/Butcher).
func computeEaster(year int) time.Time {
	a := year % 19
	b := year / 100
	cc := year % 100
	d := b / 4
	e := b % 4
	f := (b + 8) / 25
	g := (b - f + 1) / 3
	h := (19*a + b - d - g + 15) % 30
	i := cc / 4
	k := cc % 4
	l := (32 + 2*e + 2*i - h - k) % 7
	m := (a + 11*h + 22*l) / 451
	month := (h + l - 7*m + 114) / 31
	day := (h+l-7*m+114)%31 + 1
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
}

// addSpecialClosures parses the SPECIAL_MARKET_CLOSURES parameter value.
func (c *Calendar) addSpecialClosures(spec string) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return
	}
	for _, entry := range strings.Split(spec, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, ":", 2)
		date := strings.TrimSpace(parts[0])
		name := "special closure"
		if len(parts) == 2 {
			name = strings.TrimSpace(parts[1])
		}
		if _, err := time.Parse("2006-01-02", date); err == nil {
			c.holidays[date] = name
		}
	}
}

// IsHoliday reports whether t is a known holiday (weekend not included).
func (c *Calendar) IsHoliday(t time.Time) bool {
	_, ok := c.holidays[key(t)]
	return ok
}

// IsBusinessDay reports whether t is a weekday and not a holiday.
func (c *Calendar) IsBusinessDay(t time.Time) bool {
	wd := t.Weekday()
	if wd == time.Saturday || wd == time.Sunday {
		return false
	}
	return !c.IsHoliday(t)
}

// PreviousBusinessDay returns the most recent business day strictly
// before t, whether or not t itself is a business day.
func (c *Calendar) PreviousBusinessDay(t time.Time) time.Time {
	d := t.AddDate(0, 0, -1)
	for !c.IsBusinessDay(d) {
		d = d.AddDate(0, 0, -1)
	}
	return d
}

// BusinessDays returns every business day in [start, end], inclusive.
func (c *Calendar) BusinessDays(start, end time.Time) []time.Time {
	var out []time.Time
	d := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	endD := time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, time.UTC)
	for !d.After(endD) {
		if c.IsBusinessDay(d) {
			out = append(out, d)
		}
		d = d.AddDate(0, 0, 1)
	}
	return out
}
