// Package policy holds the blocking policy state and the per-app detail
// enrichment rules. Both are configuration data, not core logic.
package policy

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultIgnoredPackages lists system and launcher surfaces that never open
// or close a session.
func DefaultIgnoredPackages() []string {
	return []string{
		// Android system surfaces
		"com.android.systemui",
		"com.android.launcher",
		"com.android.launcher3",
		"com.google.android.apps.nexuslauncher",
		"com.sec.android.app.launcher",
		"com.miui.home",

		// Linux desktop shells
		"gnome-shell",
		"plasmashell",
		"xfdesktop",
		"xfce4-panel",
	}
}

// Rule enriches the raw detail text of one package.
type Rule struct {
	PackageID string `toml:"package"`
	Element   string `toml:"element"`  // Element id to resolve, e.g. "video_title"
	Template  string `toml:"template"` // Must contain exactly one %s
	Category  string `toml:"category"` // Debounce category, e.g. "short_video"
}

// Validate checks the rule is usable.
func (r Rule) Validate() error {
	if strings.TrimSpace(r.PackageID) == "" {
		return errors.New("enrichment rule: package is required")
	}
	if r.Element != "" && strings.Count(r.Template, "%s") != 1 {
		return fmt.Errorf("enrichment rule %s: template must contain exactly one %%s", r.PackageID)
	}
	return nil
}

// Enricher turns raw observed text into the detail text that is logged.
type Enricher interface {
	// Enrich returns the detail text (empty means nothing to log) and the
	// debounce category of the package.
	Enrich(packageID, raw string, elements map[string]string) (detail, category string, err error)
}

// DefaultRules returns the built-in enrichment table.
func DefaultRules() []Rule {
	return []Rule{
		{
			PackageID: "com.google.android.youtube",
			Element:   "video_title",
			Template:  "watching video: %s",
			Category:  "video",
		},
		{
			PackageID: "com.zhiliaoapp.musically",
			Element:   "video_desc",
			Template:  "watching short video: %s",
			Category:  "short_video",
		},
		{
			PackageID: "com.instagram.android",
			Element:   "reel_caption",
			Template:  "watching reel: %s",
			Category:  "short_video",
		},
	}
}

// RuleSet is an Enricher backed by a lookup table keyed by package.
type RuleSet struct {
	rules map[string]Rule
}

// NewRuleSet creates a rule set. Later rules for the same package win.
func NewRuleSet(rules ...Rule) (*RuleSet, error) {
	rs := &RuleSet{rules: make(map[string]Rule, len(rules))}
	for _, r := range rules {
		if err := r.Validate(); err != nil {
			return nil, err
		}
		rs.rules[strings.TrimSpace(r.PackageID)] = r
	}
	return rs, nil
}

// Category returns the debounce category for a package.
func (rs *RuleSet) Category(packageID string) string {
	return rs.rules[packageID].Category
}

// Enrich applies the package rule if its element resolves, else returns the raw text.
func (rs *RuleSet) Enrich(packageID, raw string, elements map[string]string) (string, string, error) {
	raw = strings.TrimSpace(raw)
	rule, ok := rs.rules[packageID]
	if !ok {
		return raw, "", nil
	}
	if rule.Element != "" {
		if v := strings.TrimSpace(elements[rule.Element]); v != "" {
			return fmt.Sprintf(rule.Template, v), rule.Category, nil
		}
	}
	return raw, rule.Category, nil
}

// Ensure RuleSet implements Enricher.
var _ Enricher = (*RuleSet)(nil)
