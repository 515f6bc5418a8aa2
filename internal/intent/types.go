package intent

// Intent is the classified category of user need.
type Intent string

const (
	Task       Intent = "task"
	Emotion    Intent = "emotion"
	Mixed      Intent = "mixed"
	Decision   Intent = "decision"
	Habit      Intent = "habit"
	Goal       Intent = "goal"
	Reflection Intent = "reflection"
	Casual     Intent = "casual"
	Unknown    Intent = "unknown"
)

// All lists every intent in a stable order.
var All = []Intent{Task, Emotion, Mixed, Decision, Habit, Goal, Reflection, Casual, Unknown}

// Parse maps s onto a known intent.
func Parse(s string) (Intent, bool) {
	for _, i := range All {
		if string(i) == s {
			return i, true
		}
	}
	return "", false
}

// Mode is the conversational stance suggested for an intent.
type Mode string

const (
	ModeEmotionSupport  Mode = "emotion_support"
	ModeActionAssistant Mode = "action_assistant"
	ModeMixed           Mode = "mixed"
	ModeCoach           Mode = "coach"
	ModeUnknown         Mode = "unknown"
)

// ModeFor returns the suggested mode for i.
func ModeFor(i Intent) Mode {
	switch i {
	case Task, Decision:
		return ModeActionAssistant
	case Emotion, Casual:
		return ModeEmotionSupport
	case Mixed:
		return ModeMixed
	case Habit, Goal, Reflection:
		return ModeCoach
	default:
		return ModeUnknown
	}
}

// SignalFollowUp marks a short message continuing the previous turn.
const SignalFollowUp = "followup"

// Classification is the result of classifying one user message.
type Classification struct {
	Intent     Intent   `json:"intent"`
	Confidence float64  `json:"confidence"`
	Signals    []string `json:"signals"`
	Mode       Mode     `json:"suggested_mode"`
	Reason     string   `json:"reason"`
}

// Hint carries optional conversation context into classification.
type Hint struct {
	Summary    string
	LastIntent Intent
}
