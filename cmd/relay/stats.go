package main

import (
	"time"

	"github.com/matst80/tlsrelay/internal/relay"
)

// Stats is the relay state reported by /api/state and the dashboard.
type Stats struct {
	relay.Stats
	Listen   string   `json:"listen"`
	Upstream string   `json:"upstream"`
	Recent   []string `json:"recent"`
	Now      string   `json:"now"`
}

func collectStats(s *appState) Stats {
	st := Stats{
		Stats:    s.srv.Stats(),
		Listen:   s.listen,
		Upstream: s.upstream,
		Recent:   []string{},
		Now:      time.Now().UTC().Format(time.RFC3339),
	}
	if s.recent != nil {
		lines := s.recent.Lines()
		// newest first for display
		for i := len(lines) - 1; i >= 0; i-- {
			st.Recent = append(st.Recent, lines[i].String())
		}
	}
	return st
}

// ToTemplateMap returns a map suited for html/template rendering with expected capitalized keys.
func (s Stats) ToTemplateMap() map[string]any {
	return map[string]any{
		"Listen":    s.Listen,
		"Upstream":  s.Upstream,
		"Accepted":  s.Accepted,
		"Active":    s.Active,
		"Completed": s.Completed,
		"Failed":    s.Failed,
		"Rejected":  s.Rejected,
		"BytesUp":   s.BytesUp,
		"BytesDown": s.BytesDown,
		"Recent":    s.Recent,
	}
}
