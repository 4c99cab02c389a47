package classifier

// rule is a single lexical signal. Latin terms are matched against word
// boundaries (with stem matching for longer roots); Han terms are matched by
// substring. Weights accumulate into the category/intent score.
type rule struct {
	Term   string
	Weight float64
}

func strong(terms ...string) []rule { return weighted(0.5, terms...) }
func weak(terms ...string) []rule   { return weighted(0.25, terms...) }

func weighted(w float64, terms ...string) []rule {
	rules := make([]rule, len(terms))
	for i, t := range terms {
		rules[i] = rule{Term: t, Weight: w}
	}
	return rules
}

func merge(sets ...[]rule) []rule {
	var out []rule
	for _, s := range sets {
		out = append(out, s...)
	}
	return out
}

// categoryRules holds the shared rule tables. English and Chinese terms live
// in the same table and go through the same scoring path; adding a language
// means adding terms, not code.
var categoryRules = map[Category][]rule{
	CategoryFact: merge(
		strong("remember that", "note that", "the fact is", "记住", "事实是"),
		weak("fact", "fyi", "for the record", "备注"),
	),
	CategoryPreference: merge(
		strong("i prefer", "i'd rather", "my preference", "我更喜欢", "我喜欢"),
		weak("i like", "i love", "favorite", "i always", "i usually", "偏好"),
	),
	CategoryTask: merge(
		strong("remember to", "don't forget", "need to", "记得要", "别忘了"),
		weak("todo", "to do", "task", "deadline", "due", "must", "待办", "任务", "截止"),
	),
	CategorySchedule: merge(
		strong("meeting", "appointment", "scheduled", "会议", "预约"),
		weak("calendar", "agenda", "invite", "日程"),
	),
	CategoryProcedure: merge(
		strong("step 1", "how to", "steps:", "步骤", "教程"),
		weak("procedure", "install", "configure", "setup", "instructions", "安装", "配置"),
	),
	CategoryWorkflow: merge(
		strong("workflow", "pipeline", "工作流"),
		weak("process", "then run", "followed by", "流程"),
	),
	CategoryCode: merge(
		strong("func", "def", "class", "```", "stack trace", "代码"),
		weak("import", "return", "exception", "error:", "compile", "git", "函数", "报错"),
	),
	CategoryDocument: merge(
		strong("document", "report", "文档", "报告"),
		weak("pdf", "readme", "spec", "article", "paper", "chapter", "论文"),
	),
	CategoryMedia: merge(
		strong("screenshot", "recording", "截图", "录屏"),
		weak("video", "image", "photo", "视频", "图片"),
	),
	CategoryBrowsing: merge(
		strong("http://", "https://", "网页"),
		weak("website", "browser", "url", "visited", "tab", "浏览", "链接"),
	),
	CategoryContact: merge(
		strong("phone number", "email address", "联系人", "电话号码"),
		weak("contact", "call", "reached out", "邮箱"),
	),
	CategoryLocation: merge(
		strong("address", "located at", "地址", "位于"),
		weak("office", "street", "room", "building", "地点"),
	),
	CategoryEvent: merge(
		strong("happened", "occurred", "发生了"),
		weak("yesterday", "incident", "launched", "released", "昨天", "事件"),
	),
	CategoryConversation: merge(
		strong("said", "told me", "我们聊到"),
		weak("asked", "replied", "chat", "discussed", "mentioned", "聊天", "讨论"),
	),
	// CategoryGeneral has no rules: it is the fallback, never rule-matched.
}

var intentRules = map[Intent][]rule{
	IntentRetrieveFact: merge(
		strong("what is", "who is", "what's the", "是什么", "谁是"),
		weak("tell me about", "do i know", "关于"),
	),
	IntentGetTasks: merge(
		strong("need to do", "to do", "what do i need", "要做什么", "待办"),
		weak("todo", "tasks", "due", "deadline", "remind", "截止"),
	),
	IntentFindProcedure: merge(
		strong("how do i", "how to", "steps to", "怎么", "如何"),
		weak("procedure for", "guide", "步骤"),
	),
	IntentLocateCode: merge(
		strong("code", "function", "snippet", "代码", "函数"),
		weak("script", "error", "bug", "repo", "脚本", "报错"),
	),
	IntentFindDocument: merge(
		strong("document", "file", "文档", "文件"),
		weak("pdf", "report", "article", "报告"),
	),
	IntentRecallActivity: merge(
		strong("what did i", "what was i", "when did", "做了什么", "看过"),
		weak("yesterday", "last week", "this morning", "昨天", "上周"),
	),
	// IntentGeneralSearch has no rules: it is the fallback intent.
}
