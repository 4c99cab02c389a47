package retrieval

import (
	"sort"

	"github.com/recallstack/recall-server/internal/domain/memory"
)

// rrfConstant dampens the weight of top ranks in reciprocal rank fusion.
const rrfConstant = 60

// fuse combines ranked result lists with reciprocal rank fusion: an item's
// score is the sum over lists of 1/(rank+c). Items appearing in several lists
// rank above items appearing high in only one.
func fuse(lists ...[]memory.Item) []memory.Item {
	type fused struct {
		item  memory.Item
		score float64
	}
	byID := make(map[string]*fused)
	var order []string

	for _, list := range lists {
		for rank, item := range list {
			f, ok := byID[item.ID]
			if !ok {
				f = &fused{item: item}
				byID[item.ID] = f
				order = append(order, item.ID)
			}
			f.score += 1.0 / float64(rank+1+rrfConstant)
			// Keep the copy that carries a vector similarity.
			if item.Similarity > f.item.Similarity {
				f.item = item
			}
		}
	}

	out := make([]memory.Item, 0, len(order))
	for _, id := range order {
		out = append(out, byID[id].item)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return byID[out[i].ID].score > byID[out[j].ID].score
	})
	return out
}
