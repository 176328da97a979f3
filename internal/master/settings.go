package master

import (
	"strings"

	"github.com/JakeFAU/crawl-cluster-master/internal/cluster"
)

// MergeSettings layers settings in increasing precedence: per-domain group
// defaults, cluster-global settings, then caller-supplied settings. Later
// layers override keys of earlier ones. Inputs are not modified.
func MergeSettings(group, global, caller cluster.Settings) cluster.Settings {
	merged := make(cluster.Settings, len(group)+len(global)+len(caller))
	for _, layer := range []cluster.Settings{group, global, caller} {
		for k, v := range layer {
			merged[k] = v
		}
	}
	return cluster.NormalizeSettings(merged)
}

// GlobalSettings picks the named keys out of all. Keys match case-insensitively
// because viper folds map keys to lower case; the output uses the spelling
// from names. Names without a value are skipped.
func GlobalSettings(names []string, all cluster.Settings) cluster.Settings {
	folded := make(map[string]any, len(all))
	for k, v := range all {
		folded[strings.ToLower(k)] = v
	}
	out := make(cluster.Settings, len(names))
	for _, name := range names {
		if v, ok := folded[strings.ToLower(name)]; ok {
			out[name] = v
		}
	}
	return cluster.NormalizeSettings(out)
}
