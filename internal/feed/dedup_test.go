package feed

import (
	"fmt"
	"testing"
)

func posts(feedID FeedID, links ...string) []Post {
	out := make([]Post, 0, len(links))
	for i, link := range links {
		out = append(out, Post{
			ID:     PostID(fmt.Sprintf("%s-%d", feedID, i)),
			FeedID: feedID,
			Title:  link,
			Link:   link,
		})
	}
	return out
}

func links(ps []Post) []string {
	out := make([]string, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.Link)
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestDiffPreservesFreshOrder(t *testing.T) {
	known := posts("f", "b", "d")
	fresh := posts("f", "e", "d", "c", "b", "a")

	got := links(Diff(fresh, known))
	want := []string{"e", "c", "a"}
	if !equalStrings(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestDiffIsIdempotent(t *testing.T) {
	known := posts("f", "1", "2", "3")
	fresh := posts("f", "5", "4", "1", "2", "3")

	first := Diff(fresh, known)
	if len(first) != 2 {
		t.Fatalf("expected 2 new posts, got %d", len(first))
	}

	again := Diff(fresh, append(append([]Post{}, known...), first...))
	if len(again) != 0 {
		t.Fatalf("expected no new posts on second diff, got %v", links(again))
	}
}

func TestDiffScopesLinksToFeed(t *testing.T) {
	known := posts("other", "shared")
	fresh := posts("mine", "shared")

	got := Diff(fresh, known)
	if len(got) != 1 {
		t.Fatalf("expected link from another feed not to count, got %d posts", len(got))
	}
}

func TestDiffDropsRepeatsWithinFresh(t *testing.T) {
	fresh := posts("f", "a", "b", "a")

	got := links(Diff(fresh, nil))
	if !equalStrings(got, []string{"a", "b"}) {
		t.Fatalf("expected first occurrence only, got %v", got)
	}
	if Diff(fresh, nil)[0].ID != "f-0" {
		t.Fatalf("expected first occurrence to win")
	}
}

func TestDiffEmptyInputs(t *testing.T) {
	if got := Diff(nil, posts("f", "a")); len(got) != 0 {
		t.Fatalf("expected no posts, got %v", got)
	}
	if got := Diff(posts("f", "a"), nil); len(got) != 1 {
		t.Fatalf("expected all fresh posts, got %v", got)
	}
}

func TestDiffDoesNotMutateInputs(t *testing.T) {
	known := posts("f", "a")
	fresh := posts("f", "b", "a")
	before := links(fresh)

	_ = Diff(fresh, known)

	if !equalStrings(before, links(fresh)) {
		t.Fatalf("expected fresh to be untouched")
	}
}
