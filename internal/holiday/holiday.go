// Package holiday provides public holiday lookups for the calendar gate.
package holiday

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rickar/cal/v2"
	"github.com/rickar/cal/v2/de"
	"github.com/rickar/cal/v2/gb"
	"github.com/rickar/cal/v2/us"
)

// locales maps a config locale to its national holiday list.
var locales = map[string][]*cal.Holiday{
	"us": us.Holidays,
	"gb": gb.Holidays,
	"de": de.Holidays,
}

// Locales returns the supported locale names, including "none".
func Locales() []string {
	names := []string{"none"}
	for k := range locales {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Calendar answers IsHoliday for one locale plus site-specific extra dates.
type Calendar struct {
	bc    *cal.BusinessCalendar
	extra map[string]bool
}

// New builds a Calendar. locale is one of Locales(); extra dates are YYYY-MM-DD.
func New(locale string, extra []string) (*Calendar, error) {
	c := &Calendar{extra: make(map[string]bool, len(extra))}

	locale = strings.ToLower(strings.TrimSpace(locale))
	if locale != "" && locale != "none" {
		list, ok := locales[locale]
		if !ok {
			return nil, fmt.Errorf("unknown holiday locale %q (supported: %s)", locale, strings.Join(Locales(), ", "))
		}
		c.bc = cal.NewBusinessCalendar()
		c.bc.AddHoliday(list...)
	}

	for _, d := range extra {
		t, err := time.Parse("2006-01-02", d)
		if err != nil {
			return nil, fmt.Errorf("parse extra holiday %q: %w", d, err)
		}
		c.extra[t.Format("2006-01-02")] = true
	}
	return c, nil
}

// IsHoliday reports whether date, in its own location, is a public holiday
// (actual or observed) or one of the extra dates.
func (c *Calendar) IsHoliday(date time.Time) bool {
	if c.extra[date.Format("2006-01-02")] {
		return true
	}
	if c.bc == nil {
		return false
	}
	actual, observed, _ := c.bc.IsHoliday(date)
	return actual || observed
}
