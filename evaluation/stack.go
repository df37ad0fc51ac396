package evaluation

// evaluationStack tracks which flag and segment keys are currently being
// evaluated on this call chain, so circular prerequisite or segmentMatch
// references are detected instead of recursing forever.
//
// Prerequisites and segments are unrelated namespaces, so each gets its own
// set. The stack is owned by a single evaluation call frame and needs no
// locking.
type evaluationStack struct {
	prerequisites map[string]struct{}
	segments      map[string]struct{}
}

func newEvaluationStack() *evaluationStack {
	return &evaluationStack{
		prerequisites: make(map[string]struct{}),
		segments:      make(map[string]struct{}),
	}
}

func (s *evaluationStack) seenPrerequisite(key string) bool {
	_, seen := s.prerequisites[key]
	return seen
}

// noticePrerequisite marks key as in progress and returns the function that
// forgets it; callers defer it so the guard is scoped to the call frame.
func (s *evaluationStack) noticePrerequisite(key string) func() {
	s.prerequisites[key] = struct{}{}
	return func() { delete(s.prerequisites, key) }
}

func (s *evaluationStack) seenSegment(key string) bool {
	_, seen := s.segments[key]
	return seen
}

func (s *evaluationStack) noticeSegment(key string) func() {
	s.segments[key] = struct{}{}
	return func() { delete(s.segments, key) }
}
