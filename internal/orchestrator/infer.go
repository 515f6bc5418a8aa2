package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/kalambet/lifeos/internal/intent"
	"github.com/kalambet/lifeos/internal/memory"
	"github.com/kalambet/lifeos/internal/pipeline"
)

// Confidence of facts guessed from wording rather than stated outright.
const (
	patternConfidence = 0.6
	goalConfidence    = 0.7
)

// cue maps phrases in a user message onto a remembered fact.
type cue struct {
	key    string
	words  []string
	stated bool // the user said it about themselves
}

var cues = []cue{
	{"morning_productivity", []string{"早上效率高", "早上效率最高", "早上状态好", "上午效率高", "morning person"}, true},
	{"evening_productivity", []string{"晚上效率高", "晚上效率最高", "晚上状态好", "夜猫子", "night owl"}, true},
	{"prefers_short_tasks", []string{"喜欢短任务", "偏好短任务", "喜欢小任务", "short tasks"}, true},
	{"needs_frequent_breaks", []string{"需要休息", "坐不住", "注意力不集中"}, false},
	{"distracted_by_phone", []string{"刷手机", "玩手机", "看手机"}, false},
	{"distracted_by_social", []string{"社交媒体", "刷微博", "刷抖音", "刷朋友圈", "social media"}, false},
}

// infer writes the facts a finished turn reveals. Stated preferences are
// remembered with the user as source; guessed patterns are inferred and
// expire. Sensitive keys are skipped silently.
func (c *Controller) infer(ctx context.Context, s pipeline.State) error {
	lower := strings.ToLower(s.UserInput)
	var errs []error

	for _, cu := range cues {
		if !containsAny(lower, cu.words) {
			continue
		}
		var err error
		if cu.stated {
			_, err = c.memory.Remember(ctx, s.UserID, cu.key, true, memory.Preference, nil, memory.FromUser)
		} else {
			_, err = c.memory.Infer(ctx, s.UserID, cu.key, true, patternConfidence)
		}
		if err != nil && !errors.Is(err, memory.ErrSensitive) {
			errs = append(errs, fmt.Errorf("remembering %s: %w", cu.key, err))
		}
	}

	if s.Intent == intent.Goal && !continuesGoal(s) {
		goal, _ := s.Extracted["goal"].(string)
		if goal == "" {
			goal = s.UserInput
		}
		_, err := c.memory.Put(ctx, memory.Entry{
			UserID:     s.UserID,
			Key:        goalKey(goal),
			Type:       memory.Goal,
			TTLDays:    memory.Days(memory.InferredTTLDays),
			Source:     memory.FromInferred,
			Confidence: goalConfidence,
		}, goal)
		if err != nil {
			errs = append(errs, fmt.Errorf("remembering goal: %w", err))
		}
	}
	return errors.Join(errs...)
}

// continuesGoal reports whether the turn asked about a goal stated earlier
// rather than stating a new one.
func continuesGoal(s pipeline.State) bool {
	if slices.Contains(s.Signals, intent.SignalFollowUp) {
		return true
	}
	_, ok := s.Extracted["goal_step"]
	return ok
}

// goalKey derives a stable key so restating a goal overwrites it.
func goalKey(goal string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(goal)))
	return "goal:" + hex.EncodeToString(sum[:4])
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
