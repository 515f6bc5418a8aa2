package intent

import (
	_ "embed"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var defaultRules []byte

// Rule is the keyword and pattern set for one intent.
type Rule struct {
	Intent     Intent
	Keywords   []string
	Patterns   []*regexp.Regexp
	MinSignals int
	// Confidence, when non-zero, is used instead of the count-scaled value.
	Confidence float64
}

// Table is the full declarative classification policy.
type Table struct {
	Rules            []Rule
	Greetings        []string
	FollowUps        []string
	FollowUpPatterns []*regexp.Regexp
	CasualMaxRunes   int
	FollowUpMaxRunes int
}

type rawTable struct {
	CasualMaxRunes   int      `yaml:"casual_max_runes"`
	FollowUpMaxRunes int      `yaml:"followup_max_runes"`
	Greetings        []string `yaml:"greetings"`
	FollowUps        []string `yaml:"followups"`
	FollowUpPatterns []string `yaml:"followup_patterns"`
	Intents          []struct {
		Name       string   `yaml:"name"`
		Keywords   []string `yaml:"keywords"`
		Patterns   []string `yaml:"patterns"`
		MinSignals int      `yaml:"min_signals"`
		Confidence float64  `yaml:"confidence"`
	} `yaml:"intents"`
}

// ParseTable decodes a YAML rule table and compiles its patterns.
func ParseTable(data []byte) (*Table, error) {
	var raw rawTable
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decoding rule table: %w", err)
	}

	t := &Table{
		Greetings:        raw.Greetings,
		FollowUps:        raw.FollowUps,
		CasualMaxRunes:   raw.CasualMaxRunes,
		FollowUpMaxRunes: raw.FollowUpMaxRunes,
	}
	for _, p := range raw.FollowUpPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compiling follow-up pattern %q: %w", p, err)
		}
		t.FollowUpPatterns = append(t.FollowUpPatterns, re)
	}

	seen := make(map[Intent]bool)
	for _, ri := range raw.Intents {
		in, ok := Parse(ri.Name)
		if !ok {
			return nil, fmt.Errorf("unknown intent %q in rule table", ri.Name)
		}
		if in == Mixed || in == Casual || in == Unknown {
			return nil, fmt.Errorf("intent %q is derived and cannot have rules", ri.Name)
		}
		if seen[in] {
			return nil, fmt.Errorf("duplicate rules for intent %q", ri.Name)
		}
		seen[in] = true

		r := Rule{Intent: in, MinSignals: ri.MinSignals, Confidence: ri.Confidence}
		if r.MinSignals <= 0 {
			r.MinSignals = 1
		}
		for _, k := range ri.Keywords {
			r.Keywords = append(r.Keywords, strings.ToLower(k))
		}
		for _, p := range ri.Patterns {
			re, err := regexp.Compile(p)
			if err != nil {
				return nil, fmt.Errorf("compiling pattern %q for %s: %w", p, in, err)
			}
			r.Patterns = append(r.Patterns, re)
		}
		t.Rules = append(t.Rules, r)
	}
	return t, nil
}

var defaultTable = sync.OnceValues(func() (*Table, error) {
	return ParseTable(defaultRules)
})

// DefaultTable returns the embedded rule table.
func DefaultTable() *Table {
	t, err := defaultTable()
	if err != nil {
		panic(fmt.Sprintf("embedded rules.yaml is invalid: %v", err))
	}
	return t
}

// RuleClassifier classifies text with a keyword and pattern table. It never
// calls out and is always available.
type RuleClassifier struct {
	table *Table
}

// NewRuleClassifier returns a classifier over t, or the embedded table when
// t is nil.
func NewRuleClassifier(t *Table) *RuleClassifier {
	if t == nil {
		t = DefaultTable()
	}
	return &RuleClassifier{table: t}
}

func (r *Rule) match(text string) []string {
	var signals []string
	for _, k := range r.Keywords {
		if strings.Contains(text, k) {
			signals = append(signals, k)
		}
	}
	for _, p := range r.Patterns {
		if p.MatchString(text) {
			signals = append(signals, "pattern:"+p.String())
		}
	}
	return signals
}

// Classify scores text against every rule and applies the tie-break policy:
// emotion together with task signals is mixed; a short follow-up keeps the
// previous intent; otherwise the rule with the most signals wins, ties going
// to the earlier rule. Short or greeting input is casual and the rest unknown.
func (c *RuleClassifier) Classify(text string, hint Hint) Classification {
	text = strings.TrimSpace(text)
	lower := strings.ToLower(text)

	signals := make(map[Intent][]string, len(c.table.Rules))
	for i := range c.table.Rules {
		r := &c.table.Rules[i]
		signals[r.Intent] = r.match(lower)
	}

	if len(signals[Emotion]) > 0 && len(signals[Task]) > 0 {
		return Classification{
			Intent:     Mixed,
			Confidence: 0.85,
			Signals:    append(append([]string{}, signals[Emotion]...), signals[Task]...),
			Mode:       ModeMixed,
			Reason:     "emotional expression together with a task request; acknowledge first, then act",
		}
	}

	if cl, ok := c.followUp(lower, hint); ok {
		return cl
	}

	var best *Rule
	for i := range c.table.Rules {
		r := &c.table.Rules[i]
		n := len(signals[r.Intent])
		if n < r.MinSignals {
			continue
		}
		if best == nil || n > len(signals[best.Intent]) {
			best = r
		}
	}
	if best != nil {
		n := len(signals[best.Intent])
		conf := best.Confidence
		if conf == 0 {
			conf = min(0.7+0.1*float64(n), 0.95)
		}
		return Classification{
			Intent:     best.Intent,
			Confidence: conf,
			Signals:    signals[best.Intent],
			Mode:       ModeFor(best.Intent),
			Reason:     fmt.Sprintf("matched %d %s signal(s)", n, best.Intent),
		}
	}

	if utf8.RuneCountInString(text) < c.table.CasualMaxRunes || containsAny(lower, c.table.Greetings) {
		return Classification{
			Intent:     Casual,
			Confidence: 0.6,
			Signals:    []string{"short_text"},
			Mode:       ModeEmotionSupport,
			Reason:     "short input or small talk",
		}
	}

	return Classification{
		Intent:     Unknown,
		Confidence: 0.4,
		Signals:    []string{},
		Mode:       ModeUnknown,
		Reason:     "no clear signals; ask the user to clarify",
	}
}

func (c *RuleClassifier) followUp(lower string, hint Hint) (Classification, bool) {
	switch hint.LastIntent {
	case "", Casual, Unknown:
		return Classification{}, false
	}
	if utf8.RuneCountInString(lower) >= c.table.FollowUpMaxRunes {
		return Classification{}, false
	}
	matched := containsAny(lower, c.table.FollowUps)
	for _, p := range c.table.FollowUpPatterns {
		if matched {
			break
		}
		matched = p.MatchString(lower)
	}
	if !matched {
		return Classification{}, false
	}
	return Classification{
		Intent:     hint.LastIntent,
		Confidence: 0.7,
		Signals:    []string{SignalFollowUp},
		Mode:       ModeFor(hint.LastIntent),
		Reason:     "short follow-up continuing the previous " + string(hint.LastIntent) + " turn",
	}, true
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if sub != "" && strings.Contains(s, strings.ToLower(sub)) {
			return true
		}
	}
	return false
}
