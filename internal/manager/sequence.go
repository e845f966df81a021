package manager

import (
	"context"
	"sync"
	"time"

	"github.com/GoPolymarket/perpgate/internal/pkg/apperrors"
	"github.com/GoPolymarket/perpgate/internal/pkg/logger"
	"github.com/ethereum/go-ethereum/common"
)

// Locker is a lock shared between gateway replicas. The returned unlock
// function releases only the lock it acquired.
type Locker interface {
	Lock(ctx context.Context, key string, ttl time.Duration) (unlock func(context.Context) error, err error)
}

// SequenceManager serializes the fetch..submit window per sending address.
// Distinct addresses never contend.
type SequenceManager struct {
	mu     sync.Mutex
	slots  map[common.Address]*slot
	locker Locker
	ttl    time.Duration
}

type slot struct {
	sem chan struct{}

	// watermark is the next sequence this process may hand out; zero value
	// (known == false) means nothing was submitted yet.
	watermark uint64
	known     bool
}

type SequenceOption func(*SequenceManager)

// WithLocker adds a cross-process lock taken after the in-process one.
func WithLocker(l Locker, ttl time.Duration) SequenceOption {
	return func(m *SequenceManager) {
		m.locker = l
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

func NewSequenceManager(opts ...SequenceOption) *SequenceManager {
	m := &SequenceManager{
		slots: make(map[common.Address]*slot),
		ttl:   30 * time.Second,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *SequenceManager) slot(addr common.Address) *slot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[addr]
	if !ok {
		s = &slot{sem: make(chan struct{}, 1)}
		m.slots[addr] = s
	}
	return s
}

// Acquire blocks until addr's lease is free or ctx is done. The lease must
// be released.
func (m *SequenceManager) Acquire(ctx context.Context, addr common.Address) (*Lease, error) {
	s := m.slot(addr)
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, apperrors.NewChainUnavailable("timed out waiting for sequence lease of "+addr.Hex(), ctx.Err())
	}

	lease := &Lease{m: m, addr: addr, slot: s}
	if m.locker != nil {
		unlock, err := m.locker.Lock(ctx, "perpgate:seq:"+addr.Hex(), m.ttl)
		if err != nil {
			<-s.sem
			return nil, err
		}
		lease.unlock = unlock
	}
	return lease, nil
}

// Lease is exclusive ownership of an address's next sequence.
type Lease struct {
	m      *SequenceManager
	addr   common.Address
	slot   *slot
	unlock func(context.Context) error
	once   sync.Once
}

// Next returns the sequence to use given the chain's pending nonce. It
// never returns a value below one already committed by this process.
func (l *Lease) Next(chainNext uint64) uint64 {
	if l.slot.known && l.slot.watermark > chainNext {
		logger.Debug("Chain reports stale sequence, using watermark",
			"address", l.addr.Hex(), "chain", chainNext, "watermark", l.slot.watermark)
		return l.slot.watermark
	}
	return chainNext
}

// Commit records that used was accepted by the chain.
func (l *Lease) Commit(used uint64) {
	if !l.slot.known || used+1 > l.slot.watermark {
		l.slot.watermark = used + 1
		l.slot.known = true
	}
}

// Reset drops the watermark so the next lease trusts the chain again. Used
// after the chain reports a sequence mismatch.
func (l *Lease) Reset() {
	l.slot.watermark = 0
	l.slot.known = false
	logger.Info("Reset sequence watermark", "address", l.addr.Hex())
}

// Release frees the lease. Safe to call more than once.
func (l *Lease) Release() {
	l.once.Do(func() {
		if l.unlock != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := l.unlock(ctx); err != nil {
				logger.Warn("Failed to release shared sequence lock", "address", l.addr.Hex(), "error", err)
			}
			cancel()
		}
		<-l.slot.sem
	})
}

// Watermark returns the next sequence this process would hand out for addr,
// and whether one is known. It waits for any active lease.
func (m *SequenceManager) Watermark(addr common.Address) (uint64, bool) {
	s := m.slot(addr)
	s.sem <- struct{}{}
	defer func() { <-s.sem }()
	return s.watermark, s.known
}
