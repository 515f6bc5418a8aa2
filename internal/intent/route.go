package intent

// Entry node names the router can dispatch to.
const (
	NodeTaskExtraction = "task_extraction"
	NodeEmotionSupport = "emotion_support"
	NodeHabitCoach     = "habit_coach"
	NodeGoalPlanning   = "goal_planning"
	NodeReflection     = "reflection_guide"
	NodeCasualChat     = "casual_chat"
	NodeClarification  = "clarification"
)

var routes = map[Intent]string{
	Task:       NodeTaskExtraction,
	Decision:   NodeTaskExtraction,
	Mixed:      NodeTaskExtraction,
	Emotion:    NodeEmotionSupport,
	Habit:      NodeHabitCoach,
	Goal:       NodeGoalPlanning,
	Reflection: NodeReflection,
	Casual:     NodeCasualChat,
	Unknown:    NodeClarification,
}

// Route returns the pipeline entry node for i. Unrecognised intents go to
// clarification.
func Route(i Intent) string {
	if n, ok := routes[i]; ok {
		return n
	}
	return NodeClarification
}

// Routes returns a copy of the routing table, keyed by intent name.
func Routes() map[string]string {
	out := make(map[string]string, len(routes))
	for i, n := range routes {
		out[string(i)] = n
	}
	return out
}
