package master

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawl-cluster-master/internal/cluster"
)

func TestMergeSettings_Precedence(t *testing.T) {
	t.Parallel()

	group := cluster.Settings{"depth": 1, "delay": 2.5, "agent": "group"}
	global := cluster.Settings{"agent": "global", "robots": true}
	caller := cluster.Settings{"depth": 7}

	merged := MergeSettings(group, global, caller)

	require.Equal(t, cluster.Settings{
		"depth":  int64(7),
		"delay":  2.5,
		"agent":  "global",
		"robots": true,
	}, merged)
	require.Equal(t, 1, group["depth"], "inputs are not modified")
}

func TestMergeSettings_NilLayers(t *testing.T) {
	t.Parallel()

	require.Empty(t, MergeSettings(nil, nil, nil))
	require.Equal(t, cluster.Settings{"a": "b"}, MergeSettings(nil, nil, cluster.Settings{"a": "b"}))
}

func TestGlobalSettings_PicksNamedKeys(t *testing.T) {
	t.Parallel()

	all := cluster.Settings{"download_delay": 3, "user_agent": "bot", "other": true}
	got := GlobalSettings([]string{"DOWNLOAD_DELAY", "user_agent", "missing"}, all)

	require.Equal(t, cluster.Settings{"DOWNLOAD_DELAY": int64(3), "user_agent": "bot"}, got)
}
