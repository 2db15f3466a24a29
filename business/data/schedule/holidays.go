package schedule

import (
	"time"

	"github.com/rickar/cal/v2"
	"github.com/rickar/cal/v2/aa"
)

// fiestaNacional and diaConstitucion are the two Spanish national
// holidays with no counterpart in the common holiday set.
var (
	fiestaNacional = &cal.Holiday{
		Name:  "Fiesta Nacional de España",
		Month: time.October,
		Day:   12,
		Func:  cal.CalcDayOfMonth,
	}
	diaConstitucion = &cal.Holiday{
		Name:  "Día de la Constitución",
		Month: time.December,
		Day:   6,
		Func:  cal.CalcDayOfMonth,
	}
)

// holidayCalendar holds the national holidays observed by the operator,
// used to flag materialized service days.
type holidayCalendar struct {
	calendar *cal.BusinessCalendar
}

func makeHolidayCalendar() *holidayCalendar {
	calendar := cal.NewBusinessCalendar()
	calendar.AddHoliday(
		aa.NewYear,
		aa.Epiphany,
		aa.GoodFriday,
		aa.WorkersDay,
		aa.AssumptionOfMary,
		fiestaNacional,
		aa.AllSaintsDay,
		diaConstitucion,
		aa.ImmaculateConception,
		aa.ChristmasDay,
	)
	return &holidayCalendar{calendar: calendar}
}

// isHoliday returns true when at falls on an observed national holiday.
func (h *holidayCalendar) isHoliday(at time.Time) bool {
	_, observed, _ := h.calendar.IsHoliday(at)
	return observed
}
