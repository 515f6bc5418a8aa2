package nodes

import (
	"strings"
	"unicode/utf8"

	"github.com/kalambet/lifeos/internal/llm"
)

// maxContextRunes bounds the profile and conversation text injected into a
// system prompt. The profile is kept whole; the conversation is cut first.
const maxContextRunes = 1200

const taskExtractionPrompt = `你是任务提取专家。从用户输入中提取所有具体的、可执行的任务或待办事项。

规则：
1. 只提取可执行的任务，不要提取情绪描述
2. 保持原始描述，不要改写
3. 只输出 JSON 数组，不要输出其他内容

示例：
输入：明天要交报告，还要回邮件，晚上开会
输出：["明天要交报告", "回邮件", "晚上开会"]

输入：我想学Python，但不知道从哪开始，还要准备面试
输出：["学习Python", "准备面试"]`

const emotionPrompt = `你是 LifeOS 的情绪支持伙伴。用户正在表达情绪，请先共情，再给出 2-3 条温和、具体、容易做到的建议。不要评判，不要说教。

只输出一个 JSON 对象：
{"empathy_response": "共情回应", "suggestions": ["建议1", "建议2"]}`

const habitPrompt = `你是习惯养成教练。根据用户的描述设计一个容易坚持的习惯计划：从小目标开始，绑定一个固定的触发时机，并给出完成后的奖励。

只输出一个 JSON 对象：
{"habit_plan": {"habit_name": "习惯名称", "frequency": "频率", "trigger": "触发条件", "reward": "奖励"}, "motivation_message": "一句鼓励的话"}`

const goalPrompt = `你是目标规划教练。把用户的目标拆解成阶段性里程碑，并给出一个今天就能开始的第一步。

如果用户是在追问之前目标的某一步（例如"第二步怎么做"），只输出：
{"is_continuation": true, "step_number": 2, "action": "行动", "details": "详细说明", "time_required": "预计耗时", "expected_result": "预期成果"}

否则只输出：
{"goal": "目标", "why": "动机", "timeline": "时间规划", "milestones": [{"milestone": "阶段名称", "description": "说明", "deadline": "截止时间", "actions": ["行动"]}], "first_step": {"action": "行动", "time_required": "预计耗时", "expected_result": "预期成果"}, "resources": ["资源"], "tips": ["建议"]}`

const reflectionPrompt = `你是反思引导教练。帮助用户回顾最近的经历：总结发生了什么，肯定做到的事情，提炼收获。语气温暖、鼓励。

只输出一个 JSON 对象：
{"summary": "一句话总结", "achievements": ["成就"], "learnings": ["收获"]}`

const casualPrompt = `你是 LifeOS 智能助理，一个温暖、专业、富有同理心的生活助手。像朋友一样交流，善于倾听，适当使用 emoji，回复简洁明了。直接输出回复内容。`

// compose builds the messages of one capability call. The system message
// carries the node instructions followed by the profile summary and the
// recent conversation, trimmed to maxContextRunes.
func compose(instructions, profileSummary, contextSummary, input string) []llm.Message {
	var sb strings.Builder
	sb.WriteString(instructions)

	remaining := maxContextRunes
	if profileSummary != "" {
		sb.WriteString("\n\n[用户画像]\n")
		sb.WriteString(profileSummary)
		remaining -= utf8.RuneCountInString(profileSummary)
	}
	if contextSummary != "" && remaining > 0 {
		sb.WriteString("\n\n[对话上下文]\n")
		sb.WriteString(clip(contextSummary, remaining))
	}

	return []llm.Message{
		{Role: llm.RoleSystem, Content: sb.String()},
		{Role: llm.RoleUser, Content: input},
	}
}

// clip keeps the last n runes of s, where the most recent turns are.
func clip(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return "…" + string(runes[len(runes)-n:])
}
