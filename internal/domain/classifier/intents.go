package classifier

// Intent is the closed set of query purposes used to route a query to
// relevant categories.
type Intent string

const (
	IntentRetrieveFact   Intent = "retrieve_fact"
	IntentGetTasks       Intent = "get_tasks"
	IntentFindProcedure  Intent = "find_procedure"
	IntentLocateCode     Intent = "locate_code"
	IntentFindDocument   Intent = "find_document"
	IntentRecallActivity Intent = "recall_activity"
	IntentGeneralSearch  Intent = "general_search"
)

// intentPriority breaks score ties the same way categoryPriority does.
var intentPriority = []Intent{
	IntentLocateCode,
	IntentFindProcedure,
	IntentGetTasks,
	IntentFindDocument,
	IntentRetrieveFact,
	IntentRecallActivity,
	IntentGeneralSearch,
}

// intentRouting is the many-to-many intent to category routing table.
// IntentGeneralSearch is absent: it routes to all categories.
var intentRouting = map[Intent][]Category{
	IntentRetrieveFact:   {CategoryFact, CategoryPreference, CategoryContact, CategoryLocation},
	IntentGetTasks:       {CategoryTask, CategorySchedule, CategoryEvent},
	IntentFindProcedure:  {CategoryProcedure, CategoryWorkflow, CategoryTask},
	IntentLocateCode:     {CategoryCode, CategoryDocument},
	IntentFindDocument:   {CategoryDocument, CategoryMedia, CategoryBrowsing},
	IntentRecallActivity: {CategoryEvent, CategoryConversation, CategoryBrowsing, CategoryMedia},
}

// RouteIntent returns the ordered candidate categories for an intent.
// A nil result means "search all categories".
func RouteIntent(intent Intent) []Category {
	cats, ok := intentRouting[intent]
	if !ok {
		return nil
	}
	out := make([]Category, len(cats))
	copy(out, cats)
	return out
}

// ParseIntent maps a string to a known intent.
func ParseIntent(s string) (Intent, bool) {
	for _, in := range intentPriority {
		if string(in) == s {
			return in, true
		}
	}
	return IntentGeneralSearch, false
}

// IntentNames returns the string form of every intent, for the model
// fallback prompt.
func IntentNames() []string {
	names := make([]string, len(intentPriority))
	for i, in := range intentPriority {
		names[i] = string(in)
	}
	return names
}
