package feed

import "github.com/samber/lo"

// dedupKey is the identity of a post across re-fetches.
type dedupKey struct {
	feedID FeedID
	link   string
}

func keyOf(p Post) dedupKey {
	return dedupKey{feedID: p.FeedID, link: p.Link}
}

// Diff returns the posts of fresh that are not in known, in fresh order.
// Two posts are the same post when they share FeedID and Link. Repeats
// inside fresh are dropped after their first occurrence.
func Diff(fresh, known []Post) []Post {
	seen := lo.SliceToMap(known, func(p Post) (dedupKey, struct{}) {
		return keyOf(p), struct{}{}
	})

	unseen := lo.Filter(fresh, func(p Post, _ int) bool {
		_, ok := seen[keyOf(p)]
		return !ok
	})

	return lo.UniqBy(unseen, keyOf)
}
