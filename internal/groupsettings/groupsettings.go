// Package groupsettings supplies per-domain default settings read from a YAML
// file. The file can be watched and is reloaded in place when it changes.
//
// File layout:
//
//	defaults:
//	  download_delay: 1
//	groups:
//	  - name: news
//	    domains: [example.com, .news.example.org]
//	    settings:
//	      depth_limit: 3
//
// A domain entry starting with a dot matches every subdomain. Defaults apply to
// every domain; matching groups are layered on top in file order.
package groupsettings

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/crawl-cluster-master/internal/cluster"
)

// Group assigns settings to a set of domains.
type Group struct {
	Name     string         `yaml:"name"`
	Domains  []string       `yaml:"domains"`
	Settings map[string]any `yaml:"settings"`
}

// File is the parsed YAML document.
type File struct {
	Defaults map[string]any `yaml:"defaults"`
	Groups   []Group        `yaml:"groups"`
}

// Provider serves settings from the last successfully loaded file.
type Provider struct {
	path   string
	logger *zap.Logger

	mu   sync.RWMutex
	file File
}

var _ cluster.GroupSettings = (*Provider)(nil)

// Load reads path and returns a Provider for it.
func Load(path string, logger *zap.Logger) (*Provider, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("group settings file is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Provider{path: path, logger: logger.Named("groupsettings")}
	if err := p.Reload(); err != nil {
		return nil, err
	}
	return p, nil
}

// Parse decodes a group settings document.
func Parse(data []byte) (File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return File{}, fmt.Errorf("parse group settings: %w", err)
	}
	for i, g := range f.Groups {
		if len(g.Domains) == 0 {
			return File{}, fmt.Errorf("group %d (%s): no domains", i, g.Name)
		}
		for _, d := range g.Domains {
			if strings.TrimSpace(d) == "" {
				return File{}, fmt.Errorf("group %d (%s): empty domain", i, g.Name)
			}
		}
	}
	return f, nil
}

// Reload re-reads the file. On error the previous settings stay in effect.
func (p *Provider) Reload() error {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return fmt.Errorf("read group settings: %w", err)
	}
	f, err := Parse(data)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.file = f
	p.mu.Unlock()
	p.logger.Info("group settings loaded", zap.String("file", p.path), zap.Int("groups", len(f.Groups)))
	return nil
}

// For returns the settings for domain: defaults first, then every matching
// group in file order.
func (p *Provider) For(domain string) cluster.Settings {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(cluster.Settings, len(p.file.Defaults))
	for k, v := range p.file.Defaults {
		out[k] = v
	}
	for _, g := range p.file.Groups {
		if !g.matches(domain) {
			continue
		}
		for k, v := range g.Settings {
			out[k] = v
		}
	}
	return cluster.NormalizeSettings(out)
}

func (g Group) matches(domain string) bool {
	domain = strings.ToLower(domain)
	for _, pattern := range g.Domains {
		pattern = strings.ToLower(strings.TrimSpace(pattern))
		if strings.HasPrefix(pattern, ".") {
			if strings.HasSuffix(domain, pattern) || domain == pattern[1:] {
				return true
			}
			continue
		}
		if domain == pattern {
			return true
		}
	}
	return false
}

// Watch reloads the file whenever it is written or replaced, until ctx is
// done. The parent directory is watched so editors that rename over the file
// are picked up.
func (p *Provider) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() {
		_ = watcher.Close()
	}()
	if err := watcher.Add(filepath.Dir(p.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(p.path), err)
	}
	target := filepath.Clean(p.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target || !(event.Has(fsnotify.Write) || event.Has(fsnotify.Create)) {
				continue
			}
			if err := p.Reload(); err != nil {
				p.logger.Warn("group settings reload failed, keeping previous", zap.Error(err))
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			p.logger.Warn("group settings watcher error", zap.Error(err))
		}
	}
}
