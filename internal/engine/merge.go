package engine

// AnsweredCount returns the number of questions with a non-empty answer.
func AnsweredCount(answers map[string]string) int {
	n := 0
	for _, v := range answers {
		if v != "" {
			n++
		}
	}
	return n
}

// Merge reconciles the store's last-synced answers with the draft cache on
// resume. Policy: the set with the larger answered count wins; on a tie the
// draft wins, since an unsynced local edit is the more likely unacknowledged
// change. Whole-set comparison is intentional — within one attempt session
// true concurrent multi-device editing is rare, and losing a stale duplicate
// is cheaper than losing a later answer.
func Merge(remote, draft map[string]string) map[string]string {
	src := draft
	if AnsweredCount(remote) > AnsweredCount(draft) {
		src = remote
	}

	merged := make(map[string]string, len(src))
	for q, v := range src {
		if v != "" {
			merged[q] = v
		}
	}
	return merged
}
