package learning

import "strings"

// Analytics section names accepted by queries.
const (
	SectionThemes     = "themes"
	SectionParameters = "parameters"
	SectionQuality    = "quality"
	SectionStrategies = "strategies"
	SectionModes      = "modes"
)

// AnalyticsReport carries only the requested sections; absent sections
// marshal away.
type AnalyticsReport struct {
	Themes     map[string]View   `json:"themes,omitempty"`
	Parameters map[string]View   `json:"parameters,omitempty"`
	Quality    *QualityAnalytics `json:"quality,omitempty"`
	Strategies map[string]View   `json:"strategies,omitempty"`
	Modes      map[string]View   `json:"modes,omitempty"`
}

// Analytics assembles the requested sections. No sections means all of
// them; unknown names are ignored, not errors.
func (r *Router) Analytics(sections ...string) AnalyticsReport {
	want := make(map[string]bool, len(sections))
	for _, s := range sections {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			want[s] = true
		}
	}
	all := len(want) == 0

	var report AnalyticsReport
	if all || want[SectionThemes] {
		report.Themes = r.patterns.Analytics()
	}
	if all || want[SectionParameters] {
		report.Parameters = r.tuner.Analytics()
	}
	if all || want[SectionQuality] {
		q := r.quality.Analytics()
		report.Quality = &q
	}
	if all || want[SectionStrategies] {
		report.Strategies = r.strategies.Analytics()
	}
	if all || want[SectionModes] {
		report.Modes = r.modes.Analytics()
	}
	return report
}
