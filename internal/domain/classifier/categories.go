package classifier

// Category is the closed set of semantic buckets used to partition memory items.
type Category string

const (
	CategoryFact         Category = "fact"
	CategoryPreference   Category = "preference"
	CategoryTask         Category = "task"
	CategorySchedule     Category = "schedule"
	CategoryProcedure    Category = "procedure"
	CategoryWorkflow     Category = "workflow"
	CategoryCode         Category = "code"
	CategoryDocument     Category = "document"
	CategoryMedia        Category = "media"
	CategoryBrowsing     Category = "browsing"
	CategoryContact      Category = "contact"
	CategoryLocation     Category = "location"
	CategoryEvent        Category = "event"
	CategoryConversation Category = "conversation"
	CategoryGeneral      Category = "general"
)

// categoryPriority breaks score ties: more specific categories outrank generic
// ones. Lower index wins.
var categoryPriority = []Category{
	CategoryCode,
	CategoryProcedure,
	CategoryWorkflow,
	CategorySchedule,
	CategoryTask,
	CategoryContact,
	CategoryLocation,
	CategoryMedia,
	CategoryBrowsing,
	CategoryDocument,
	CategoryPreference,
	CategoryFact,
	CategoryEvent,
	CategoryConversation,
	CategoryGeneral,
}

// AllCategories returns every category in priority order.
func AllCategories() []Category {
	out := make([]Category, len(categoryPriority))
	copy(out, categoryPriority)
	return out
}

// ParseCategory maps a string to a known category.
func ParseCategory(s string) (Category, bool) {
	for _, c := range categoryPriority {
		if string(c) == s {
			return c, true
		}
	}
	return CategoryGeneral, false
}

// CategoryNames returns the string form of every category, for the model
// fallback prompt.
func CategoryNames() []string {
	names := make([]string, len(categoryPriority))
	for i, c := range categoryPriority {
		names[i] = string(c)
	}
	return names
}
