package rtc

import (
	"fmt"

	"github.com/dkeye/telecare/internal/domain"
)

// candidateBuffer makes remote candidate application idempotent and safe to
// run before a remote description exists. The relay feed delivers full row
// snapshots, so every already-applied candidate is re-observed on each
// update; duplicates are skipped, early arrivals are buffered until Flush.
// Callers hold the owning connection's lock.
type candidateBuffer struct {
	applied map[string]struct{}
	pending []domain.ICECandidate
	ready   bool
}

func newCandidateBuffer() *candidateBuffer {
	return &candidateBuffer{applied: make(map[string]struct{})}
}

// candidateKey identifies a candidate by the full init tuple. The same
// candidate line can legitimately appear once per media section, so the line
// alone does not distinguish candidates.
func candidateKey(cand domain.ICECandidate) string {
	mid := "<nil>"
	if cand.SDPMid != nil {
		mid = *cand.SDPMid
	}
	line := "<nil>"
	if cand.SDPMLineIndex != nil {
		line = fmt.Sprintf("%d", *cand.SDPMLineIndex)
	}
	ufrag := "<nil>"
	if cand.UsernameFragment != nil {
		ufrag = *cand.UsernameFragment
	}
	return cand.Candidate + "|" + mid + "|" + line + "|" + ufrag
}

// Add hands cand to apply exactly once, or buffers it when the remote
// description is not set yet. Re-adding an applied candidate is a no-op.
func (b *candidateBuffer) Add(cand domain.ICECandidate, apply func(domain.ICECandidate) error) error {
	key := candidateKey(cand)
	if _, ok := b.applied[key]; ok {
		return nil
	}
	b.applied[key] = struct{}{}
	if !b.ready {
		b.pending = append(b.pending, cand)
		return nil
	}
	return apply(cand)
}

// Flush marks the buffer ready and applies everything collected so far.
// Called once the remote description has been set.
func (b *candidateBuffer) Flush(apply func(domain.ICECandidate) error) error {
	b.ready = true
	pending := b.pending
	b.pending = nil
	for _, cand := range pending {
		if err := apply(cand); err != nil {
			return err
		}
	}
	return nil
}

// Len reports distinct candidates seen so far.
func (b *candidateBuffer) Len() int {
	return len(b.applied)
}
