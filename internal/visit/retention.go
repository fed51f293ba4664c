package visit

import (
	"math"
	"sort"
	"time"

	"github.com/webibook/analytics/internal/domain"
)

// Retention horizons in days. A cohort younger than a horizon has not had
// the chance to demonstrate retention at that horizon and is excluded from
// its denominator.
var horizons = []int{1, 7, 30}

// Cohort is the set of actors first seen on one UTC calendar day.
type Cohort struct {
	Date     string `json:"date"` // "2006-01-02", UTC
	Size     int    `json:"size"`
	Returned int    `json:"returned"` // actors with more than one visit

	// RetentionPct maps horizon days to the returned fraction as a
	// percentage with one decimal. Horizons the cohort is too young for
	// are absent.
	RetentionPct map[int]float64 `json:"retention_pct"`
}

// RetentionReport is the derived statistics block of the dashboard.
type RetentionReport struct {
	Cohorts []Cohort `json:"cohorts"`

	// OverallPct aggregates returned/size across all cohorts old enough
	// for each horizon.
	OverallPct map[int]float64 `json:"overall_pct"`

	DailyActive   int `json:"daily_active"`
	WeeklyActive  int `json:"weekly_active"`
	MonthlyActive int `json:"monthly_active"`

	// HourlyVisits is the count of visit records per UTC hour-of-day
	// across all history.
	HourlyVisits [24]int `json:"hourly_visits"`
}

// ComputeRetentionFrom is the pure derivation used both by the engine and
// by the report builder (which already holds a consistent aggregate copy).
func ComputeRetentionFrom(actors []domain.Actor, visits []domain.VisitRecord, now time.Time) *RetentionReport {
	now = now.UTC()
	report := &RetentionReport{OverallPct: make(map[int]float64)}

	byDay := make(map[string]*Cohort)
	for _, a := range actors {
		day := a.FirstSeenAt.UTC().Format("2006-01-02")
		c, ok := byDay[day]
		if !ok {
			c = &Cohort{Date: day, RetentionPct: make(map[int]float64)}
			byDay[day] = c
		}
		c.Size++
		if a.VisitCount > 1 {
			c.Returned++
		}

		if !a.LastSeenAt.Before(now.Add(-24 * time.Hour)) {
			report.DailyActive++
		}
		if !a.LastSeenAt.Before(now.Add(-7 * 24 * time.Hour)) {
			report.WeeklyActive++
		}
		if !a.LastSeenAt.Before(now.Add(-30 * 24 * time.Hour)) {
			report.MonthlyActive++
		}
	}

	totals := make(map[int]struct{ size, returned int })
	for _, c := range byDay {
		cohortDay, err := time.Parse("2006-01-02", c.Date)
		if err != nil {
			continue
		}
		age := now.Sub(cohortDay)
		for _, h := range horizons {
			if age < time.Duration(h)*24*time.Hour {
				continue
			}
			c.RetentionPct[h] = pct(c.Returned, c.Size)
			t := totals[h]
			t.size += c.Size
			t.returned += c.Returned
			totals[h] = t
		}
		report.Cohorts = append(report.Cohorts, *c)
	}
	sort.Slice(report.Cohorts, func(i, j int) bool {
		return report.Cohorts[i].Date < report.Cohorts[j].Date
	})
	for h, t := range totals {
		report.OverallPct[h] = pct(t.returned, t.size)
	}

	for _, v := range visits {
		report.HourlyVisits[v.CreatedAt.UTC().Hour()]++
	}

	return report
}

// pct returns returned/size as a percentage rounded to one decimal; an
// empty denominator yields 0, never an error.
func pct(returned, size int) float64 {
	if size == 0 {
		return 0
	}
	return math.Round(float64(returned)/float64(size)*1000) / 10
}
