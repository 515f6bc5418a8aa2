package profile

import (
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/kalambet/lifeos/internal/memory"
)

// UserProfile is the derived, never-stored view of a user's preferences,
// distractions and goals, folded from their live memory entries.
type UserProfile struct {
	UserID string `json:"user_id"`

	MorningProductivity bool `json:"morning_productivity"`
	EveningProductivity bool `json:"evening_productivity"`

	PrefersShortTasks   bool   `json:"prefers_short_tasks"`
	PlanningStyle       string `json:"planning_style"`
	NeedsFrequentBreaks bool   `json:"needs_frequent_breaks"`

	DistractedBySocial bool `json:"distracted_by_social"`
	DistractedByPhone  bool `json:"distracted_by_phone"`

	LongTermGoals []string `json:"long_term_goals"`
	WeeklyFocus   string   `json:"weekly_focus"`

	PreferredTone string `json:"preferred_tone"`
	Language      string `json:"language"`
}

// Default returns the profile of a user nothing is known about.
func Default(userID string) UserProfile {
	return UserProfile{
		UserID:            userID,
		PrefersShortTasks: true,
		PlanningStyle:     "simple",
		PreferredTone:     "friendly",
		Language:          "zh-CN",
		LongTermGoals:     []string{},
	}
}

// Clone returns a deep copy of p.
func (p UserProfile) Clone() UserProfile {
	p.LongTermGoals = slices.Clone(p.LongTermGoals)
	return p
}

// Fold builds a profile from entries. Only preference, pattern and goal
// entries contribute; callers must pass live entries only.
func Fold(userID string, entries []memory.Entry) UserProfile {
	p := Default(userID)

	sorted := slices.Clone(entries)
	slices.SortStableFunc(sorted, func(a, b memory.Entry) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})

	for _, e := range sorted {
		v := e.Any()
		switch e.Type {
		case memory.Preference:
			switch e.Key {
			case "morning_productivity":
				p.MorningProductivity = truthy(v)
			case "evening_productivity":
				p.EveningProductivity = truthy(v)
			case "prefers_short_tasks":
				p.PrefersShortTasks = truthy(v)
			case "needs_frequent_breaks":
				p.NeedsFrequentBreaks = truthy(v)
			case "planning_style":
				p.PlanningStyle = text(v, p.PlanningStyle)
			case "preferred_tone":
				p.PreferredTone = text(v, p.PreferredTone)
			case "language":
				p.Language = text(v, p.Language)
			case "weekly_focus":
				p.WeeklyFocus = text(v, p.WeeklyFocus)
			}
		case memory.Pattern:
			switch e.Key {
			case "distracted_by_social":
				p.DistractedBySocial = truthy(v)
			case "distracted_by_phone":
				p.DistractedByPhone = truthy(v)
			case "needs_frequent_breaks":
				p.NeedsFrequentBreaks = truthy(v)
			}
		case memory.Goal:
			if e.Key == "weekly_focus" {
				p.WeeklyFocus = text(v, p.WeeklyFocus)
				continue
			}
			if g := text(v, ""); g != "" {
				p.LongTermGoals = append(p.LongTermGoals, g)
			}
		}
	}
	return p
}

func truthy(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case float64:
		return x != 0
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(x))
		if err == nil {
			return b
		}
		return strings.TrimSpace(x) != ""
	case nil:
		return false
	}
	return true
}

func text(v any, fallback string) string {
	switch x := v.(type) {
	case nil:
		return fallback
	case string:
		if s := strings.TrimSpace(x); s != "" {
			return s
		}
		return fallback
	case map[string]any:
		for _, k := range []string{"title", "name", "goal", "value"} {
			if s, ok := x[k].(string); ok && s != "" {
				return s
			}
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fallback
	}
	return string(b)
}

// maxSummaryRunes keeps the prompt summary short.
const maxSummaryRunes = 400

// Summary renders p as a compact line for a system prompt.
func Summary(p UserProfile) string {
	var parts []string
	switch {
	case p.MorningProductivity && p.EveningProductivity:
		parts = append(parts, "早上和晚上效率都不错")
	case p.MorningProductivity:
		parts = append(parts, "早上效率高")
	case p.EveningProductivity:
		parts = append(parts, "晚上效率高")
	}
	if p.PrefersShortTasks {
		parts = append(parts, "偏好短任务")
	}
	if p.NeedsFrequentBreaks {
		parts = append(parts, "需要经常休息")
	}
	if p.DistractedBySocial {
		parts = append(parts, "容易被社交媒体分心")
	}
	if p.DistractedByPhone {
		parts = append(parts, "容易被手机分心")
	}
	if p.PlanningStyle != "" {
		parts = append(parts, fmt.Sprintf("规划风格: %s", p.PlanningStyle))
	}
	if p.PreferredTone != "" {
		parts = append(parts, fmt.Sprintf("语气: %s", p.PreferredTone))
	}
	if p.WeeklyFocus != "" {
		parts = append(parts, fmt.Sprintf("本周重点: %s", p.WeeklyFocus))
	}
	if len(p.LongTermGoals) > 0 {
		parts = append(parts, fmt.Sprintf("长期目标: %s", strings.Join(p.LongTermGoals, "、")))
	}

	s := "用户画像: " + strings.Join(parts, "；")
	if r := []rune(s); len(r) > maxSummaryRunes {
		s = string(r[:maxSummaryRunes]) + "…"
	}
	return s
}
