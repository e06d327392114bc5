package file

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/opd-ai/meshgate/limits"
	"github.com/sirupsen/logrus"
)

// Registry stores the state of every transfer known to the gateway. A single
// mutex guards the outbound, inbound and completed maps so that moving a
// transfer between maps is atomic. A transfer id lives in at most one map.
type Registry struct {
	outbound     map[uint32]*OutboundTransfer
	inbound      map[uint32]*InboundTransfer
	completed    map[uint32]*CompletedTransfer
	timeProvider TimeProvider
	mu           sync.Mutex
}

// RegistryStats counts the transfers held in each map.
type RegistryStats struct {
	Outbound  int `json:"outbound"`
	Inbound   int `json:"inbound"`
	Completed int `json:"completed"`
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		outbound:     make(map[uint32]*OutboundTransfer),
		inbound:      make(map[uint32]*InboundTransfer),
		completed:    make(map[uint32]*CompletedTransfer),
		timeProvider: DefaultTimeProvider{},
	}
}

// SetTimeProvider sets a custom time provider for deterministic testing.
func (r *Registry) SetTimeProvider(tp TimeProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.timeProvider = tp
}

// exists reports whether id is present in any map. Callers hold r.mu.
func (r *Registry) exists(id uint32) bool {
	if _, ok := r.outbound[id]; ok {
		return true
	}
	if _, ok := r.inbound[id]; ok {
		return true
	}
	_, ok := r.completed[id]
	return ok
}

// CreateOutbound registers a new outbound transfer in the sending state.
func (r *Registry) CreateOutbound(id uint32, filename, destination string, totalChunks uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.exists(id) {
		return fmt.Errorf("%w: %d", ErrDuplicateTransfer, id)
	}

	r.outbound[id] = &OutboundTransfer{
		TransferID:  id,
		Filename:    filename,
		Destination: destination,
		TotalChunks: totalChunks,
		Status:      StatusSending,
		CreatedAt:   r.timeProvider.Now(),
	}
	return nil
}

// UpdateOutboundProgress records the number of chunks sent. The counter never
// moves backwards.
func (r *Registry) UpdateOutboundProgress(id, sentChunks uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	out, ok := r.outbound[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrTransferNotFound, id)
	}
	if sentChunks > out.SentChunks {
		out.SentChunks = sentChunks
	}
	return nil
}

// SetOutboundStatus moves an outbound transfer to status. cause is recorded
// for the error state. Terminal transfers cannot change state.
func (r *Registry) SetOutboundStatus(id uint32, status Status, cause error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	out, ok := r.outbound[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrTransferNotFound, id)
	}
	if out.Status.Terminal() {
		return fmt.Errorf("%w: %d is %s", ErrTransferFinished, id, out.Status)
	}
	out.Status = status
	out.Err = cause
	return nil
}

// RecordInboundChunk stores one verified chunk payload, creating the inbound
// buffer on the first chunk of an unseen transfer. It returns the number of
// distinct chunks received. Redelivering a sequence number overwrites the
// stored payload without counting it twice.
func (r *Registry) RecordInboundChunk(id, totalChunks, seq uint32, payload []byte) (uint32, error) {
	if totalChunks == 0 || totalChunks > limits.MaxChunks {
		return 0, fmt.Errorf("%w: total_chunks %d outside 1..%d", ErrInvalidChunk, totalChunks, limits.MaxChunks)
	}
	if seq >= totalChunks {
		return 0, fmt.Errorf("%w: seq_num %d >= total_chunks %d", ErrInvalidChunk, seq, totalChunks)
	}
	if err := limits.ValidateChunkPayload(payload); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidChunk, err)
	}

	stored := make([]byte, len(payload))
	copy(stored, payload)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.completed[id]; ok {
		return 0, fmt.Errorf("%w: %d", ErrAlreadyCompleted, id)
	}
	if _, ok := r.outbound[id]; ok {
		return 0, fmt.Errorf("%w: %d is an outbound transfer", ErrDuplicateTransfer, id)
	}

	now := r.timeProvider.Now()
	in, ok := r.inbound[id]
	if !ok {
		in = newInboundTransfer(id, totalChunks, now)
		r.inbound[id] = in
		logrus.WithFields(logrus.Fields{
			"function":     "RecordInboundChunk",
			"transfer_id":  id,
			"total_chunks": totalChunks,
		}).Info("New inbound transfer")
	} else if in.TotalChunks != totalChunks {
		return 0, fmt.Errorf("%w: total_chunks %d disagrees with %d for transfer %d",
			ErrInvalidChunk, totalChunks, in.TotalChunks, id)
	}

	in.store(seq, stored, now)
	return in.Received(), nil
}

// TryComplete assembles an inbound transfer whose chunks have all arrived,
// moves it to the completed map and returns it. It returns nil when chunks
// are still missing or the transfer is unknown. Exactly one caller observes
// the completion of a given transfer.
func (r *Registry) TryComplete(id uint32) *CompletedTransfer {
	r.mu.Lock()
	defer r.mu.Unlock()

	in, ok := r.inbound[id]
	if !ok || !in.complete() {
		return nil
	}

	data := in.assemble()
	done := &CompletedTransfer{
		TransferID:  id,
		Data:        data,
		Size:        len(data),
		Status:      StatusDone,
		Direction:   DirectionRx,
		TotalChunks: in.TotalChunks,
		CompletedAt: r.timeProvider.Now(),
	}
	r.completed[id] = done
	delete(r.inbound, id)

	return done
}

// GetStatus returns a snapshot of transfer id, looking in the outbound,
// inbound and completed maps in that order.
func (r *Registry) GetStatus(id uint32) (StatusSnapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if out, ok := r.outbound[id]; ok {
		snap := StatusSnapshot{
			TransferID:  id,
			Direction:   DirectionTx,
			Status:      out.Status,
			Filename:    out.Filename,
			TotalChunks: out.TotalChunks,
			Processed:   out.SentChunks,
		}
		if out.Err != nil {
			snap.Error = out.Err.Error()
		}
		return snap, true
	}

	if in, ok := r.inbound[id]; ok {
		return StatusSnapshot{
			TransferID:  id,
			Direction:   DirectionRx,
			Status:      StatusReceiving,
			TotalChunks: in.TotalChunks,
			Processed:   in.Received(),
		}, true
	}

	if done, ok := r.completed[id]; ok {
		return StatusSnapshot{
			TransferID:  id,
			Direction:   done.Direction,
			Status:      done.Status,
			TotalChunks: done.TotalChunks,
			Processed:   done.TotalChunks,
			Size:        done.Size,
		}, true
	}

	return StatusSnapshot{}, false
}

// ListCompleted returns metadata for completed transfers in direction,
// oldest first.
func (r *Registry) ListCompleted(direction Direction) []CompletedInfo {
	r.mu.Lock()
	result := make([]CompletedInfo, 0, len(r.completed))
	for _, done := range r.completed {
		if done.Direction == direction {
			result = append(result, done.Info())
		}
	}
	r.mu.Unlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].CompletedAt.Equal(result[j].CompletedAt) {
			return result[i].TransferID < result[j].TransferID
		}
		return result[i].CompletedAt.Before(result[j].CompletedAt)
	})
	return result
}

// GetCompletedData returns a copy of the assembled data of an inbound transfer.
func (r *Registry) GetCompletedData(id uint32) ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	done, ok := r.completed[id]
	if !ok || done.Direction != DirectionRx {
		return nil, false
	}
	data := make([]byte, len(done.Data))
	copy(data, done.Data)
	return data, true
}

// EvictStale drops inbound transfers that have not received a chunk for
// maxAge and returns their ids. A zero maxAge disables eviction.
func (r *Registry) EvictStale(maxAge time.Duration) []uint32 {
	if maxAge <= 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var evicted []uint32
	for id, in := range r.inbound {
		if r.timeProvider.Since(in.lastActivity) >= maxAge {
			evicted = append(evicted, id)
			delete(r.inbound, id)
		}
	}
	sort.Slice(evicted, func(i, j int) bool { return evicted[i] < evicted[j] })
	return evicted
}

// Stats returns the number of transfers in each map.
func (r *Registry) Stats() RegistryStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	return RegistryStats{
		Outbound:  len(r.outbound),
		Inbound:   len(r.inbound),
		Completed: len(r.completed),
	}
}
