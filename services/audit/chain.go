package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/upb/llm-governance-gateway/models"
)

// ErrChainBroken is returned by VerifyChain when records were altered,
// removed or reordered
var ErrChainBroken = errors.New("audit chain broken")

// ChainSink links every record to its predecessor by hash before handing it
// to the next sink
type ChainSink struct {
	next Sink
	mu   sync.Mutex
	head string

	// published mirrors head so readers never wait on an insert in flight
	published atomic.Value
}

// NewChainSink creates a chaining decorator. head is the hash of the last
// record already stored, or "" to start a new chain.
func NewChainSink(next Sink, head string) *ChainSink {
	s := &ChainSink{next: next, head: head}
	s.published.Store(head)
	return s
}

// Log stamps PreviousHash and RecordHash and forwards the record. The chain
// head only advances when the next sink accepts the record.
func (s *ChainSink) Log(ctx context.Context, record *models.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record.PreviousHash = s.head
	hash, err := record.ComputeHash()
	if err != nil {
		return err
	}
	record.RecordHash = hash

	if err := s.next.Log(ctx, record); err != nil {
		return err
	}
	s.head = hash
	s.published.Store(hash)
	return nil
}

// Head returns the hash of the last accepted record
func (s *ChainSink) Head() string {
	return s.published.Load().(string)
}

// VerifyChain checks that records form one unbroken chain starting after
// genesis. Records may be passed in any order.
func VerifyChain(records []*models.AuditRecord, genesis string) error {
	byPrevious := make(map[string]*models.AuditRecord, len(records))
	for _, r := range records {
		if _, dup := byPrevious[r.PreviousHash]; dup {
			return fmt.Errorf("%w: two records follow %q", ErrChainBroken, r.PreviousHash)
		}
		byPrevious[r.PreviousHash] = r
	}

	cursor := genesis
	for i := 0; i < len(records); i++ {
		r, ok := byPrevious[cursor]
		if !ok {
			return fmt.Errorf("%w: no record follows %q", ErrChainBroken, cursor)
		}
		want, err := r.ComputeHash()
		if err != nil {
			return err
		}
		if want != r.RecordHash {
			return fmt.Errorf("%w: record %s was modified", ErrChainBroken, r.ID)
		}
		cursor = r.RecordHash
	}
	return nil
}

// VerifyRecords checks that every record still matches its own hash. Unlike
// VerifyChain it accepts any subset of the chain, such as the records of one
// principal, and reports the first record that was altered.
func VerifyRecords(records []*models.AuditRecord) error {
	for _, r := range records {
		if r.RecordHash == "" {
			return fmt.Errorf("%w: record %s has no hash", ErrChainBroken, r.ID)
		}
		want, err := r.ComputeHash()
		if err != nil {
			return err
		}
		if want != r.RecordHash {
			return fmt.Errorf("%w: record %s was modified", ErrChainBroken, r.ID)
		}
	}
	return nil
}
