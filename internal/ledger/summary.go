package ledger

import (
	"sort"
)

// DailyTotal is one aggregated (project, date) row for a user.
type DailyTotal struct {
	Project string
	Date    Date
	Minutes int
}

type ProjectMinutes struct {
	Project string `json:"project"`
	Minutes int    `json:"minutes"`
}

type DayMinutes struct {
	Date    Date `json:"date"`
	Minutes int  `json:"minutes"`
}

// Summary is the total / by-project / by-day view of a range.
type Summary struct {
	TotalMinutes int              `json:"totalMinutes"`
	ByProject    []ProjectMinutes `json:"byProject"`
	Daily        []DayMinutes     `json:"daily"`
}

type DateRange struct {
	From Date `json:"from"`
	To   Date `json:"to"`
}

// DailySeries is the zero-filled per-day view of an explicit date range.
type DailySeries struct {
	Range  DateRange    `json:"range"`
	Series []DayMinutes `json:"series"`
}

// BuildSummary folds rows into a Summary over dates. Rows whose date is not
// in dates are ignored. byProject is ordered by minutes descending, then
// by name; daily follows the order of dates with gaps filled by zero.
func BuildSummary(dates []Date, rows []DailyTotal) Summary {
	wanted := make(map[Date]int, len(dates))
	for _, d := range dates {
		wanted[d] = 0
	}

	byProject := make(map[string]int)
	total := 0
	for _, r := range rows {
		if _, ok := wanted[r.Date]; !ok {
			continue
		}
		wanted[r.Date] += r.Minutes
		byProject[r.Project] += r.Minutes
		total += r.Minutes
	}

	projects := make([]ProjectMinutes, 0, len(byProject))
	for p, m := range byProject {
		projects = append(projects, ProjectMinutes{Project: p, Minutes: m})
	}
	sort.Slice(projects, func(i, j int) bool {
		if projects[i].Minutes != projects[j].Minutes {
			return projects[i].Minutes > projects[j].Minutes
		}
		return projects[i].Project < projects[j].Project
	})

	return Summary{
		TotalMinutes: total,
		ByProject:    projects,
		Daily:        fillDays(dates, wanted),
	}
}

// BuildSeries folds rows into a zero-filled series from from to to.
func BuildSeries(from, to Date, rows []DailyTotal) DailySeries {
	dates := ExpandDates(from, to)
	byDate := make(map[Date]int, len(dates))
	for _, d := range dates {
		byDate[d] = 0
	}
	for _, r := range rows {
		if _, ok := byDate[r.Date]; ok {
			byDate[r.Date] += r.Minutes
		}
	}
	return DailySeries{
		Range:  DateRange{From: from, To: to},
		Series: fillDays(dates, byDate),
	}
}

func fillDays(dates []Date, minutes map[Date]int) []DayMinutes {
	out := make([]DayMinutes, 0, len(dates))
	for _, d := range dates {
		out = append(out, DayMinutes{Date: d, Minutes: minutes[d]})
	}
	return out
}
