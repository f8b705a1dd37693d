// Package dedupe finds workspace users that are likely the same person and plans the merges
// that would collapse them.
package dedupe

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/Gobusters/ectolinq"

	"github.com/Ramsey-B/fern/pkg/merge"
)

type MatchReason string

const (
	MatchEmail MatchReason = "email"
	MatchPhone MatchReason = "phone"
	MatchBoth  MatchReason = "both"
)

// Strategy picks which user of a cluster is kept.
type Strategy string

const (
	StrategyOldest   Strategy = "oldest"
	StrategyNewest   Strategy = "newest"
	StrategyMostData Strategy = "most_data"
)

func ParseStrategy(raw string) (Strategy, error) {
	switch s := Strategy(strings.ToLower(strings.TrimSpace(raw))); s {
	case StrategyOldest, StrategyNewest, StrategyMostData:
		return s, nil
	case "":
		return StrategyOldest, nil
	default:
		return "", fmt.Errorf("unknown keep strategy %q", raw)
	}
}

type DuplicateUser struct {
	ID                   string    `json:"id"`
	FullName             string    `json:"fullName"`
	Email                string    `json:"email,omitempty"`
	Phone                string    `json:"phone,omitempty"`
	IsLinked             bool      `json:"isLinked"`
	LinkedPlatformUserID string    `json:"linkedPlatformUserId,omitempty"`
	CreatedAt            time.Time `json:"createdAt"`
	// FilledFields is the number of non-empty profile fields, used by the most_data strategy.
	FilledFields int `json:"filledFields"`
}

type DuplicateCluster struct {
	ClusterID         int             `json:"clusterId"`
	MatchReason       MatchReason     `json:"matchReason"`
	Users             []DuplicateUser `json:"users"`
	SuggestedTargetID string          `json:"suggestedTargetId"`
	HasLinkConflict   bool            `json:"hasLinkConflict"`
}

// HasLinked reports whether any member is linked to a platform account.
func (c DuplicateCluster) HasLinked() bool {
	for _, u := range c.Users {
		if u.IsLinked {
			return true
		}
	}
	return false
}

func (c DuplicateCluster) members() []merge.LinkedMember {
	return ectolinq.Map(c.Users, func(u DuplicateUser) merge.LinkedMember {
		return merge.LinkedMember{ID: u.ID, IsLinked: u.IsLinked, LinkedPlatformUserID: u.LinkedPlatformUserID}
	})
}

// HasBothLinkedConflict reports whether merging the cluster into targetID would drop a second platform link.
func HasBothLinkedConflict(cluster DuplicateCluster, targetID string) bool {
	return merge.HasBothLinkedConflict(cluster.members(), targetID)
}

type MergePair struct {
	TargetID string `json:"targetId"`
	SourceID string `json:"sourceId"`
}

// NormalizeEmail trims and lowercases an email. Empty means no match key.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizePhone keeps digits and a leading plus. Empty means no match key.
func NormalizePhone(phone string) string {
	phone = strings.TrimSpace(phone)
	var b strings.Builder
	for i, r := range phone {
		if r == '+' && i == 0 {
			b.WriteRune(r)
			continue
		}
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	out := b.String()
	if strings.TrimPrefix(out, "+") == "" {
		return ""
	}
	return out
}

// CountFilled counts the non-blank values.
func CountFilled(values ...*string) int {
	n := 0
	for _, v := range values {
		if v != nil && strings.TrimSpace(*v) != "" {
			n++
		}
	}
	return n
}

type unionFind struct {
	parent []int
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{parent: make([]int, n)}
	for i := range uf.parent {
		uf.parent[i] = i
	}
	return uf
}

func (uf *unionFind) find(i int) int {
	for uf.parent[i] != i {
		uf.parent[i] = uf.parent[uf.parent[i]]
		i = uf.parent[i]
	}
	return i
}

// union keeps the lower index as root so cluster order follows input order.
func (uf *unionFind) union(a, b int) {
	ra, rb := uf.find(a), uf.find(b)
	switch {
	case ra == rb:
	case ra < rb:
		uf.parent[rb] = ra
	default:
		uf.parent[ra] = rb
	}
}

// FindClusters groups users that share a normalized email or phone, transitively.
// Clusters are numbered from 1 in the order their first member appears in users.
func FindClusters(users []DuplicateUser) []DuplicateCluster {
	uf := newUnionFind(len(users))
	byEmail := map[string]int{}
	byPhone := map[string]int{}
	emailLinked := make([]bool, len(users))
	phoneLinked := make([]bool, len(users))

	for i, u := range users {
		if key := NormalizeEmail(u.Email); key != "" {
			if j, ok := byEmail[key]; ok {
				uf.union(i, j)
				emailLinked[i], emailLinked[j] = true, true
			} else {
				byEmail[key] = i
			}
		}
		if key := NormalizePhone(u.Phone); key != "" {
			if j, ok := byPhone[key]; ok {
				uf.union(i, j)
				phoneLinked[i], phoneLinked[j] = true, true
			} else {
				byPhone[key] = i
			}
		}
	}

	groups := map[int][]int{}
	var roots []int
	for i := range users {
		root := uf.find(i)
		if _, ok := groups[root]; !ok {
			roots = append(roots, root)
		}
		groups[root] = append(groups[root], i)
	}

	var clusters []DuplicateCluster
	for _, root := range roots {
		idx := groups[root]
		if len(idx) < 2 {
			continue
		}
		var byEmailMatch, byPhoneMatch bool
		members := make([]DuplicateUser, 0, len(idx))
		for _, i := range idx {
			members = append(members, users[i])
			byEmailMatch = byEmailMatch || emailLinked[i]
			byPhoneMatch = byPhoneMatch || phoneLinked[i]
		}

		reason := MatchEmail
		switch {
		case byEmailMatch && byPhoneMatch:
			reason = MatchBoth
		case byPhoneMatch:
			reason = MatchPhone
		}

		cluster := DuplicateCluster{
			ClusterID:   len(clusters) + 1,
			MatchReason: reason,
			Users:       members,
		}
		cluster.SuggestedTargetID = SuggestTarget(cluster)
		cluster.HasLinkConflict = HasBothLinkedConflict(cluster, cluster.SuggestedTargetID) || distinctLinks(cluster) > 1
		clusters = append(clusters, cluster)
	}
	return clusters
}

// SortClusters moves clusters with a linked member to the front, preserving relative order.
func SortClusters(clusters []DuplicateCluster) []DuplicateCluster {
	sorted := make([]DuplicateCluster, len(clusters))
	copy(sorted, clusters)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].HasLinked() && !sorted[j].HasLinked()
	})
	return sorted
}

// SuggestTarget keeps a linked member when there is one, otherwise the oldest user.
func SuggestTarget(cluster DuplicateCluster) string {
	linked := DuplicateCluster{}
	for _, u := range cluster.Users {
		if u.IsLinked {
			linked.Users = append(linked.Users, u)
		}
	}
	if len(linked.Users) > 0 {
		return SelectTarget(linked, StrategyOldest)
	}
	return SelectTarget(cluster, StrategyOldest)
}

// SelectTarget returns the id of the user kept under strategy. Ties fall back to the lower id.
func SelectTarget(cluster DuplicateCluster, strategy Strategy) string {
	if len(cluster.Users) == 0 {
		return ""
	}
	users := make([]DuplicateUser, len(cluster.Users))
	copy(users, cluster.Users)

	sort.SliceStable(users, func(i, j int) bool {
		a, b := users[i], users[j]
		switch strategy {
		case StrategyNewest:
			if !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.After(b.CreatedAt)
			}
		case StrategyMostData:
			if a.FilledFields != b.FilledFields {
				return a.FilledFields > b.FilledFields
			}
			if !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.Before(b.CreatedAt)
			}
		default:
			if !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.Before(b.CreatedAt)
			}
		}
		return a.ID < b.ID
	})
	return ectolinq.First(users).ID
}

// distinctLinks counts the platform accounts linked to members. Merging two of them into an
// unlinked keep user still ends in a both-linked conflict once the first link is transferred.
func distinctLinks(cluster DuplicateCluster) int {
	seen := map[string]bool{}
	for _, u := range cluster.Users {
		if u.IsLinked {
			seen[u.LinkedPlatformUserID] = true
		}
	}
	return len(seen)
}

// ExpandPairs plans (keep, other) merges for every cluster. Clusters whose kept user would
// conflict with another linked member are returned separately and produce no pairs.
func ExpandPairs(clusters []DuplicateCluster, strategy Strategy) (pairs []MergePair, conflicts []DuplicateCluster) {
	for _, cluster := range SortClusters(clusters) {
		keep := SelectTarget(cluster, strategy)
		if keep == "" {
			continue
		}
		if HasBothLinkedConflict(cluster, keep) || distinctLinks(cluster) > 1 {
			conflicts = append(conflicts, cluster)
			continue
		}
		for _, u := range cluster.Users {
			if u.ID == keep {
				continue
			}
			pairs = append(pairs, MergePair{TargetID: keep, SourceID: u.ID})
		}
	}
	return pairs, conflicts
}
