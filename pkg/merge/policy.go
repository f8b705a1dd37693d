package merge

// The merge procedures apply these rules inside the database. Previewer applies the same rules
// to a snapshot of the pair.

// MergeField keeps the target value unless it is null.
func MergeField[T any](target, source *T) *T {
	if target != nil {
		return target
	}
	return source
}

// MergeBalance keeps the greater of two accumulated values, treating null as zero.
func MergeBalance(target, source *float64) float64 {
	var t, s float64
	if target != nil {
		t = *target
	}
	if source != nil {
		s = *source
	}
	if s > t {
		return s
	}
	return t
}

// ShouldTransferLink moves the platform account link to the target only when the target has none.
func ShouldTransferLink(sourceLinked, targetLinked bool) bool {
	return sourceLinked && !targetLinked
}

// DetectCollisions returns the keys present for both source and target, in source order.
func DetectCollisions(source, target []string) []string {
	if len(source) == 0 || len(target) == 0 {
		return []string{}
	}
	inTarget := make(map[string]struct{}, len(target))
	for _, key := range target {
		inTarget[key] = struct{}{}
	}
	colliding := make([]string, 0)
	seen := make(map[string]struct{})
	for _, key := range source {
		if _, ok := inTarget[key]; !ok {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		colliding = append(colliding, key)
	}
	return colliding
}

// LinkedMember is the platform link state of one user in a duplicate cluster.
type LinkedMember struct {
	ID                   string
	IsLinked             bool
	LinkedPlatformUserID string
}

// HasBothLinkedConflict reports whether the target is linked and another member is linked to a
// different platform account. Such clusters cannot be merged without manual resolution.
func HasBothLinkedConflict(members []LinkedMember, targetID string) bool {
	var target *LinkedMember
	for i := range members {
		if members[i].ID == targetID {
			target = &members[i]
			break
		}
	}
	if target == nil || !target.IsLinked {
		return false
	}
	for _, m := range members {
		if m.ID == targetID {
			continue
		}
		if m.IsLinked && m.LinkedPlatformUserID != target.LinkedPlatformUserID {
			return true
		}
	}
	return false
}
