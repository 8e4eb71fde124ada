package ranking

import (
	"sort"

	"github.com/onnwee/bentofeed/internal/post"
)

// applyPins places posts carrying a BentoOrder at that exact slot and fills
// the remaining slots with the other posts in algorithmic order.
//
// algo holds indexes into posts in algorithmic order. Pins are processed by
// (BentoOrder, ID). An order past the end clamps to the last slot; an
// occupied slot yields to the next free slot after it, or before it when the
// tail is full.
func applyPins(algo []int, posts []post.Post) []int {
	n := len(algo)
	slots := make([]int, n)
	for i := range slots {
		slots[i] = -1
	}

	var pinned []int
	for _, idx := range algo {
		if posts[idx].BentoOrder != nil {
			pinned = append(pinned, idx)
		}
	}
	if len(pinned) == 0 {
		return algo
	}
	sort.Slice(pinned, func(a, b int) bool {
		oa, ob := *posts[pinned[a]].BentoOrder, *posts[pinned[b]].BentoOrder
		if oa != ob {
			return oa < ob
		}
		return posts[pinned[a]].ID < posts[pinned[b]].ID
	})

	for _, idx := range pinned {
		target := min(*posts[idx].BentoOrder, n-1)
		slots[freeSlot(slots, target)] = idx
	}

	next := 0
	for _, idx := range algo {
		if posts[idx].BentoOrder != nil {
			continue
		}
		for slots[next] != -1 {
			next++
		}
		slots[next] = idx
	}
	return slots
}

// freeSlot finds the nearest free slot at or after target, then before it.
// The caller guarantees at least one slot is free.
func freeSlot(slots []int, target int) int {
	for s := target; s < len(slots); s++ {
		if slots[s] == -1 {
			return s
		}
	}
	for s := target - 1; s >= 0; s-- {
		if slots[s] == -1 {
			return s
		}
	}
	return -1
}
