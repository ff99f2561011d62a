package reminder

import (
	"context"
	"time"

	"github.com/BuildWithDuke/bugsbugger/internal/storage"
)

// Stats summarizes one user's reminders.
type Stats struct {
	Total     int
	Active    int
	Snoozed   int
	Done      int
	Overdue   int
	Recurring int
	// Active or snoozed, due within the next seven days.
	UpcomingWeek int

	TotalNags      int
	MostNagged     string
	MostNaggedNags int

	Snoozes          int
	AvgSnoozeMinutes float64
}

// CompletionRate is the done share of all reminders, in percent.
func (st Stats) CompletionRate() float64 {
	if st.Total == 0 {
		return 0
	}
	return float64(st.Done) * 100 / float64(st.Total)
}

func (st Stats) AvgNags() float64 {
	if st.Total == 0 {
		return 0
	}
	return float64(st.TotalNags) / float64(st.Total)
}

func (s *Service) Stats(ctx context.Context, u storage.User) (Stats, error) {
	obs, err := s.store.ListObligations(ctx, u.ID)
	if err != nil {
		return Stats{}, err
	}
	now := s.now()
	weekOut := now.Add(7 * 24 * time.Hour)
	var st Stats
	st.Total = len(obs)
	for _, ob := range obs {
		switch ob.Status {
		case storage.StatusActive:
			st.Active++
			if ob.DueAt.Before(now) {
				st.Overdue++
			}
		case storage.StatusSnoozed:
			st.Snoozed++
		case storage.StatusDone:
			st.Done++
		}
		if ob.Status.Schedulable() && !ob.DueAt.Before(now) && ob.DueAt.Before(weekOut) {
			st.UpcomingWeek++
		}
		if ob.Recurring {
			st.Recurring++
		}
		st.TotalNags += ob.NagCount
		if ob.NagCount > st.MostNaggedNags {
			st.MostNagged, st.MostNaggedNags = ob.Title, ob.NagCount
		}
	}

	tot, err := s.store.SnoozeTotals(ctx, u.ID)
	if err != nil {
		return Stats{}, err
	}
	st.Snoozes = tot.Count
	if tot.Count > 0 {
		st.AvgSnoozeMinutes = float64(tot.Minutes) / float64(tot.Count)
	}
	return st, nil
}
