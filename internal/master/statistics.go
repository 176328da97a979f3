package master

import (
	"maps"
	"slices"
	"time"
)

// statistics is the cluster-wide bookkeeping owned by the scheduler loop.
type statistics struct {
	running   map[string]struct{}
	scraped   map[string]int
	total     int
	lostCount map[string]int
	lost      map[string]struct{}
}

func newStatistics() *statistics {
	return &statistics{
		running:   make(map[string]struct{}),
		scraped:   make(map[string]int),
		lostCount: make(map[string]int),
		lost:      make(map[string]struct{}),
	}
}

func (s *statistics) markRunning(domain string) {
	s.running[domain] = struct{}{}
}

func (s *statistics) markScraped(domain string) {
	delete(s.running, domain)
	s.scraped[domain]++
	s.total++
	delete(s.lost, domain)
}

// reconcile flags every domain believed running that no live node reports.
// A domain stays in the running set until a scraped report arrives, so its
// lost count grows by one for each poll it remains missing.
func (s *statistics) reconcile(live map[string]string) []string {
	var lost []string
	for domain := range s.running {
		if _, ok := live[domain]; ok {
			continue
		}
		s.lostCount[domain]++
		s.lost[domain] = struct{}{}
		lost = append(lost, domain)
	}
	slices.Sort(lost)
	return lost
}

// StatisticsView is a point-in-time copy of the cluster statistics.
type StatisticsView struct {
	StartTime      time.Time      `json:"start_time"`
	RunningDomains []string       `json:"running_domains"`
	Scraped        map[string]int `json:"scraped"`
	TotalScraped   int            `json:"total_scraped"`
	LostCount      map[string]int `json:"lost_count"`
	LostDomains    []string       `json:"lost_domains"`
}

func (s *statistics) view(start time.Time) StatisticsView {
	return StatisticsView{
		StartTime:      start,
		RunningDomains: slices.Sorted(maps.Keys(s.running)),
		Scraped:        maps.Clone(s.scraped),
		TotalScraped:   s.total,
		LostCount:      maps.Clone(s.lostCount),
		LostDomains:    slices.Sorted(maps.Keys(s.lost)),
	}
}
