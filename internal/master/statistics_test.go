package master

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStatistics_ScrapedClearsRunningAndLost(t *testing.T) {
	t.Parallel()

	s := newStatistics()
	s.markRunning("d.com")
	require.Equal(t, []string{"d.com"}, s.reconcile(map[string]string{}))

	s.markScraped("d.com")

	view := s.view(time.Unix(0, 0))
	require.Empty(t, view.RunningDomains)
	require.Empty(t, view.LostDomains)
	require.Equal(t, 1, view.Scraped["d.com"])
	require.Equal(t, 1, view.TotalScraped)
	require.Equal(t, 1, view.LostCount["d.com"])
}

func TestStatistics_ReconcileCountsEachPoll(t *testing.T) {
	t.Parallel()

	s := newStatistics()
	s.markRunning("gone.com")
	s.markRunning("live.com")

	live := map[string]string{"live.com": "n1"}
	require.Equal(t, []string{"gone.com"}, s.reconcile(live))
	require.Equal(t, []string{"gone.com"}, s.reconcile(live))

	view := s.view(time.Time{})
	require.Equal(t, 2, view.LostCount["gone.com"])
	require.NotContains(t, view.LostCount, "live.com")
	require.Equal(t, []string{"gone.com"}, view.LostDomains)
}
