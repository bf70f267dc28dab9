package analytics

import (
	"fmt"
	"sort"
	"time"

	"report-checker/internal/storage"
)

// DailyStats содержит статистику проверок за день
type DailyStats struct {
	Date            string              `json:"date"`
	Checks          int                 `json:"checks"`
	Failed          int                 `json:"failed"`
	Recommendations int                 `json:"recommendations"`
	UniqueUsers     int                 `json:"unique_users"`
	UserStats       map[int64]UserStats `json:"user_stats"`
}

// UserStats содержит статистику по пользователю
type UserStats struct {
	UserID int64 `json:"user_id"`
	Checks int   `json:"checks"`
	Failed int   `json:"failed"`
}

// AnalyzeDay считает проверки за календарный день targetDate
func AnalyzeDay(events []storage.CheckEvent, targetDate time.Time) *DailyStats {
	startOfDay := time.Date(targetDate.Year(), targetDate.Month(), targetDate.Day(), 0, 0, 0, 0, targetDate.Location())
	endOfDay := startOfDay.Add(24 * time.Hour)

	stats := &DailyStats{
		Date:      startOfDay.Format("2006-01-02"),
		UserStats: make(map[int64]UserStats),
	}

	for _, event := range events {
		if event.Timestamp.Before(startOfDay) || !event.Timestamp.Before(endOfDay) {
			continue
		}
		userStat, exists := stats.UserStats[event.UserID]
		if !exists {
			userStat = UserStats{UserID: event.UserID}
		}
		if event.Status == storage.StatusOK {
			stats.Checks++
			stats.Recommendations += event.Recommendations
			userStat.Checks++
		} else {
			stats.Failed++
			userStat.Failed++
		}
		stats.UserStats[event.UserID] = userStat
	}

	stats.UniqueUsers = len(stats.UserStats)
	return stats
}

// Summary форматирует короткое резюме по шаблону с плейсхолдерами
// date, checks, failed, users
func (ds *DailyStats) Summary(format string) string {
	return fmt.Sprintf(format, ds.Date, ds.Checks, ds.Failed, ds.UniqueUsers)
}

// TopUsers возвращает пользователей по убыванию числа проверок
func (ds *DailyStats) TopUsers(n int) []UserStats {
	out := make([]UserStats, 0, len(ds.UserStats))
	for _, u := range ds.UserStats {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Checks != out[j].Checks {
			return out[i].Checks > out[j].Checks
		}
		return out[i].UserID < out[j].UserID
	})
	if n >= 0 && len(out) > n {
		out = out[:n]
	}
	return out
}
