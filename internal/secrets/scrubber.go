package secrets

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/zricethezav/gitleaks/v8/detect"
)

// Scrubber detects and redacts secrets from content.
type Scrubber interface {
	// Scrub redacts secrets from the content.
	Scrub(content string) *Result

	// ScrubFields redacts every value and returns the total finding count.
	ScrubFields(fields map[string]string) (map[string]string, int)

	// Check detects secrets without redacting.
	Check(content string) *Result

	// IsEnabled returns whether scrubbing is enabled.
	IsEnabled() bool
}

type scrubber struct {
	config *Config

	// gitleaks detectors are not documented as safe for concurrent use.
	leaksMu sync.Mutex
	leaks   *detect.Detector
}

type redaction struct {
	start, end int
}

// New creates a new Scrubber with the given configuration.
// If config is nil, DefaultConfig() is used.
func New(cfg *Config) (Scrubber, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &scrubber{config: cfg}
	if cfg.Enabled && cfg.Gitleaks {
		d, err := detect.NewDetectorDefaultConfig()
		if err != nil {
			return nil, fmt.Errorf("loading gitleaks rules: %w", err)
		}
		s.leaks = d
	}
	return s, nil
}

// Scrub redacts secrets from the content.
func (s *scrubber) Scrub(content string) *Result {
	start := time.Now()
	result := newResult(content)
	if !s.config.Enabled || content == "" {
		result.Duration = time.Since(start)
		return result
	}

	var redactions []redaction
	add := func(f Finding) {
		f.Line = strings.Count(content[:f.StartIndex], "\n") + 1
		result.Findings = append(result.Findings, f)
		result.ByRule[f.RuleID]++
		redactions = append(redactions, redaction{start: f.StartIndex, end: f.EndIndex})
	}

	for _, rule := range s.config.compiledRules {
		if !rule.applies(content) {
			continue
		}
		for _, m := range rule.pattern.FindAllStringSubmatchIndex(content, -1) {
			lo, hi := m[0], m[1]
			if len(m) >= 4 && m[2] >= 0 {
				lo, hi = m[2], m[3]
			}
			if lo >= hi || s.isAllowed(content[lo:hi]) {
				continue
			}
			add(Finding{
				RuleID:      rule.ID,
				Description: rule.Description,
				Severity:    rule.Severity,
				Source:      "regex",
				StartIndex:  lo,
				EndIndex:    hi,
			})
		}
	}

	for _, f := range s.detectLeaks(content) {
		if s.isAllowed(content[f.StartIndex:f.EndIndex]) {
			continue
		}
		add(f)
	}

	if len(redactions) > 0 {
		result.Scrubbed = applyRedactions(content, redactions, s.config.RedactionString)
	}
	result.Duration = time.Since(start)
	return result
}

// detectLeaks runs gitleaks and locates every occurrence of each secret.
func (s *scrubber) detectLeaks(content string) []Finding {
	if s.leaks == nil {
		return nil
	}
	s.leaksMu.Lock()
	found := s.leaks.DetectString(content)
	s.leaksMu.Unlock()

	var out []Finding
	for _, f := range found {
		secret := f.Secret
		if secret == "" {
			secret = f.Match
		}
		if secret == "" {
			continue
		}
		for from := 0; from < len(content); {
			i := strings.Index(content[from:], secret)
			if i < 0 {
				break
			}
			lo := from + i
			out = append(out, Finding{
				RuleID:      f.RuleID,
				Description: f.Description,
				Severity:    "high",
				Source:      "gitleaks",
				StartIndex:  lo,
				EndIndex:    lo + len(secret),
			})
			from = lo + len(secret)
		}
	}
	return out
}

func (r *compiledRule) applies(content string) bool {
	if len(r.keywords) == 0 {
		return true
	}
	for _, kw := range r.keywords {
		if kw.MatchString(content) {
			return true
		}
	}
	return false
}

// ScrubFields redacts every value and returns the total finding count.
func (s *scrubber) ScrubFields(fields map[string]string) (map[string]string, int) {
	out := make(map[string]string, len(fields))
	total := 0
	for k, v := range fields {
		r := s.Scrub(v)
		out[k] = r.Scrubbed
		total += r.TotalFindings()
	}
	return out, total
}

// Check detects secrets without redacting.
func (s *scrubber) Check(content string) *Result {
	result := s.Scrub(content)
	result.Scrubbed = result.Original
	return result
}

// IsEnabled returns whether scrubbing is enabled.
func (s *scrubber) IsEnabled() bool {
	return s.config.Enabled
}

func (s *scrubber) isAllowed(match string) bool {
	for _, pattern := range s.config.compiledAllowList {
		if pattern.MatchString(match) {
			return true
		}
	}
	return false
}

// applyRedactions merges overlapping spans and replaces them back to front.
func applyRedactions(content string, spans []redaction, with string) string {
	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })

	merged := []redaction{spans[0]}
	for _, curr := range spans[1:] {
		last := &merged[len(merged)-1]
		if curr.start <= last.end {
			if curr.end > last.end {
				last.end = curr.end
			}
			continue
		}
		merged = append(merged, curr)
	}

	var b strings.Builder
	b.Grow(len(content))
	prev := 0
	for _, r := range merged {
		b.WriteString(content[prev:r.start])
		b.WriteString(with)
		prev = r.end
	}
	b.WriteString(content[prev:])
	return b.String()
}

// NoopScrubber is a scrubber that does nothing (for testing or disabled mode).
type NoopScrubber struct{}

// Scrub returns content unchanged.
func (NoopScrubber) Scrub(content string) *Result {
	return newResult(content)
}

// ScrubFields returns the fields unchanged.
func (NoopScrubber) ScrubFields(fields map[string]string) (map[string]string, int) {
	return fields, 0
}

// Check returns content unchanged.
func (n NoopScrubber) Check(content string) *Result {
	return n.Scrub(content)
}

// IsEnabled returns false.
func (NoopScrubber) IsEnabled() bool {
	return false
}

var (
	_ Scrubber = (*scrubber)(nil)
	_ Scrubber = NoopScrubber{}
)
