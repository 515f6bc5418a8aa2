package orchestrator

import (
	"github.com/kalambet/lifeos/internal/intent"
	"github.com/kalambet/lifeos/internal/nodes"
	"github.com/kalambet/lifeos/internal/pipeline"
)

// NewGraph wires the capability nodes:
//
//	classify -> task_extraction -> task_analysis -> priority_sort
//	         -> action_decompose -> personalize -> output_compose
//	classify -> emotion_support | habit_coach | goal_planning
//	         | reflection_guide | casual_chat | clarification -> output_compose
//	output_compose -> END, apology -> END
//
// Unrouted intents go to clarification; failures divert to apology.
func NewGraph(n *nodes.Nodes) *pipeline.Graph {
	g := pipeline.NewGraph().
		AddNode(nodes.Classify, n.Classify).
		AddNode(intent.NodeTaskExtraction, n.TaskExtraction).
		AddNode(nodes.TaskAnalysis, n.TaskAnalysis).
		AddNode(nodes.PrioritySort, n.PrioritySort).
		AddNode(nodes.ActionDecompose, n.ActionDecompose).
		AddNode(nodes.Personalize, n.Personalize).
		AddNode(intent.NodeEmotionSupport, n.EmotionSupport).
		AddNode(intent.NodeHabitCoach, n.HabitCoach).
		AddNode(intent.NodeGoalPlanning, n.GoalPlanning).
		AddNode(intent.NodeReflection, n.ReflectionGuide).
		AddNode(intent.NodeCasualChat, n.CasualChat).
		AddNode(intent.NodeClarification, n.Clarification).
		AddNode(nodes.OutputCompose, n.OutputCompose).
		AddNode(nodes.Apology, n.Apology)

	g.SetEntry(nodes.Classify).
		AddConditionalEdge(nodes.Classify, byIntent, intent.Routes()).
		SetDefault(intent.NodeClarification).
		SetFallback(nodes.Apology)

	g.AddEdge(intent.NodeTaskExtraction, nodes.TaskAnalysis).
		AddEdge(nodes.TaskAnalysis, nodes.PrioritySort).
		AddEdge(nodes.PrioritySort, nodes.ActionDecompose).
		AddEdge(nodes.ActionDecompose, nodes.Personalize).
		AddEdge(nodes.Personalize, nodes.OutputCompose)

	for _, name := range []string{
		intent.NodeEmotionSupport,
		intent.NodeHabitCoach,
		intent.NodeGoalPlanning,
		intent.NodeReflection,
		intent.NodeCasualChat,
		intent.NodeClarification,
	} {
		g.AddEdge(name, nodes.OutputCompose)
	}

	g.AddEdge(nodes.OutputCompose, pipeline.End).
		AddEdge(nodes.Apology, pipeline.End)
	return g
}

func byIntent(s pipeline.State) string {
	return string(s.Intent)
}
