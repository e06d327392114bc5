package file

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opd-ai/meshgate/chunk"
	"github.com/opd-ai/meshgate/limits"
	"github.com/opd-ai/meshgate/transport"
	"github.com/sirupsen/logrus"
)

// DefaultPacingInterval is the delay between consecutive chunks of one transfer.
const DefaultPacingInterval = 500 * time.Millisecond

// maxIDAttempts bounds transfer id regeneration after a collision.
const maxIDAttempts = 8

// ProgressFunc is called after every chunk sent or received.
type ProgressFunc func(transferID, count, total uint32, direction Direction)

// CompleteFunc is called once when an inbound transfer has been assembled.
type CompleteFunc func(done *CompletedTransfer)

// DropStats counts inbound chunks discarded by the receive path.
type DropStats struct {
	FrameErrors    uint64 `json:"frame_errors"`
	ChecksumErrors uint64 `json:"checksum_errors"`
	Rejected       uint64 `json:"rejected"`
}

// Manager sends files as paced chunk streams and reassembles inbound chunks.
// One goroutine drives each outbound transfer; ReceiveChunk is safe for
// concurrent use.
type Manager struct {
	transport    transport.Transport
	registry     *Registry
	pacing       time.Duration
	stallTimeout time.Duration
	generateID   func() (uint32, error)

	progressCallback ProgressFunc
	completeCallback CompleteFunc

	tasks  map[uint32]context.CancelFunc
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.RWMutex

	frameErrors    atomic.Uint64
	checksumErrors atomic.Uint64
	rejected       atomic.Uint64
}

// Option configures a Manager.
type Option func(*Manager)

// WithRegistry injects the registry the manager stores transfers in.
func WithRegistry(r *Registry) Option {
	return func(m *Manager) { m.registry = r }
}

// WithPacingInterval overrides DefaultPacingInterval.
func WithPacingInterval(d time.Duration) Option {
	return func(m *Manager) { m.pacing = d }
}

// WithStallTimeout enables eviction of inbound transfers that receive no chunk
// for d. Zero disables eviction.
func WithStallTimeout(d time.Duration) Option {
	return func(m *Manager) { m.stallTimeout = d }
}

// WithIDGenerator replaces the random transfer id source.
func WithIDGenerator(fn func() (uint32, error)) Option {
	return func(m *Manager) { m.generateID = fn }
}

// NewManager creates a file transfer manager bound to t. The manager registers
// itself as the handler for private-app packets.
func NewManager(t transport.Transport, opts ...Option) *Manager {
	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		transport:  t,
		pacing:     DefaultPacingInterval,
		generateID: randomTransferID,
		tasks:      make(map[uint32]context.CancelFunc),
		ctx:        ctx,
		cancel:     cancel,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.registry == nil {
		m.registry = NewRegistry()
	}

	if t != nil {
		t.RegisterHandler(transport.PortPrivateApp, m.handleChunkPacket)
	}

	if m.stallTimeout > 0 {
		m.wg.Add(1)
		go m.sweepStale()
	}

	logrus.WithFields(logrus.Fields{
		"function":      "NewManager",
		"pacing":        m.pacing,
		"stall_timeout": m.stallTimeout,
	}).Info("File transfer manager created")

	return m
}

// Registry returns the registry backing the manager.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// OnProgress sets the progress callback. It is invoked outside the registry lock.
func (m *Manager) OnProgress(callback ProgressFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.progressCallback = callback
}

// OnComplete sets the callback for assembled inbound transfers.
func (m *Manager) OnComplete(callback CompleteFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completeCallback = callback
}

// randomTransferID returns a uniformly random 32-bit id.
func randomTransferID() (uint32, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

// SendFile starts sending data to destination and returns the new transfer id
// without waiting for any chunk to go out. Transmission failures are reported
// through the transfer status, not through this call.
func (m *Manager) SendFile(data []byte, filename string, destination net.Addr) (uint32, error) {
	if err := limits.ValidateFileSize(data); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":  "SendFile",
			"file_name": filename,
			"file_size": len(data),
		}).Warn("Rejected oversized file")
		return 0, err
	}
	if m.ctx.Err() != nil {
		return 0, ErrManagerClosed
	}

	total := chunk.TotalChunks(len(data))
	dest := transport.Broadcast.String()
	if destination != nil {
		dest = destination.String()
	}

	id, err := m.registerOutbound(filename, dest, total)
	if err != nil {
		return 0, err
	}

	payload := make([]byte, len(data))
	copy(payload, data)

	ctx, cancel := context.WithCancel(m.ctx)
	m.mu.Lock()
	m.tasks[id] = cancel
	m.mu.Unlock()

	m.wg.Add(1)
	go m.sendWorker(ctx, id, payload, total, destination)

	logrus.WithFields(logrus.Fields{
		"function":     "SendFile",
		"transfer_id":  id,
		"file_name":    filename,
		"file_size":    len(data),
		"total_chunks": total,
		"destination":  dest,
	}).Info("File transfer queued")

	return id, nil
}

// registerOutbound allocates a fresh id and creates the outbound entry,
// regenerating the id if it collides with an existing transfer.
func (m *Manager) registerOutbound(filename, destination string, total uint32) (uint32, error) {
	var lastErr error
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		id, err := m.generateID()
		if err != nil {
			return 0, fmt.Errorf("generate transfer id: %w", err)
		}
		err = m.registry.CreateOutbound(id, filename, destination, total)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, ErrDuplicateTransfer) {
			return 0, err
		}
		lastErr = err
		logrus.WithFields(logrus.Fields{
			"function":    "registerOutbound",
			"transfer_id": id,
			"attempt":     attempt + 1,
		}).Warn("Transfer id collision, regenerating")
	}
	return 0, lastErr
}

// sendWorker transmits every chunk of one transfer in sequence order.
func (m *Manager) sendWorker(ctx context.Context, id uint32, data []byte, total uint32, destination net.Addr) {
	defer m.wg.Done()
	defer m.forgetTask(id)

	for seq := uint32(0); seq < total; seq++ {
		if ctx.Err() != nil {
			m.finishOutbound(id, StatusCancelled, ctx.Err())
			return
		}

		if err := m.sendChunk(id, seq, total, data, destination); err != nil {
			m.finishOutbound(id, StatusError, err)
			return
		}

		sent := seq + 1
		if err := m.registry.UpdateOutboundProgress(id, sent); err != nil {
			m.finishOutbound(id, StatusError, err)
			return
		}
		m.notifyProgress(id, sent, total, DirectionTx)

		logrus.WithFields(logrus.Fields{
			"function":    "sendWorker",
			"transfer_id": id,
			"sent":        sent,
			"total":       total,
		}).Debug("Sent chunk")

		if sent < total && !m.pace(ctx) {
			m.finishOutbound(id, StatusCancelled, ctx.Err())
			return
		}
	}

	m.finishOutbound(id, StatusDone, nil)
}

// sendChunk frames chunk seq and hands it to the transport.
func (m *Manager) sendChunk(id, seq, total uint32, data []byte, destination net.Addr) error {
	frame, err := chunk.Encode(id, seq, total, chunk.Slice(data, seq))
	if err != nil {
		return err
	}
	if m.transport == nil {
		return transport.ErrNotConnected
	}
	packet := &transport.Packet{
		Port: transport.PortPrivateApp,
		Data: frame,
	}
	if err := m.transport.Send(packet, destination); err != nil {
		return fmt.Errorf("send chunk %d/%d: %w", seq+1, total, err)
	}
	return nil
}

// pace waits for the pacing interval. It returns false if ctx is cancelled first.
func (m *Manager) pace(ctx context.Context) bool {
	if m.pacing <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(m.pacing)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// finishOutbound records the terminal state of an outbound transfer.
func (m *Manager) finishOutbound(id uint32, status Status, cause error) {
	if status == StatusDone {
		cause = nil
	}
	if err := m.registry.SetOutboundStatus(id, status, cause); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":    "finishOutbound",
			"transfer_id": id,
			"error":       err.Error(),
		}).Warn("Could not record final transfer status")
		return
	}

	fields := logrus.Fields{
		"function":    "finishOutbound",
		"transfer_id": id,
		"status":      status.String(),
	}
	switch status {
	case StatusDone:
		logrus.WithFields(fields).Info("File transfer complete")
	case StatusCancelled:
		logrus.WithFields(fields).Info("File transfer cancelled")
	default:
		fields["error"] = fmt.Sprint(cause)
		logrus.WithFields(fields).Error("File transfer failed")
	}
}

func (m *Manager) forgetTask(id uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cancel, ok := m.tasks[id]; ok {
		cancel()
		delete(m.tasks, id)
	}
}

// Cancel aborts an in-flight outbound transfer. The send task observes the
// cancellation at its next pacing wait and marks the transfer cancelled.
func (m *Manager) Cancel(id uint32) error {
	snap, found := m.registry.GetStatus(id)
	if !found || snap.Direction != DirectionTx {
		return fmt.Errorf("%w: %d", ErrTransferNotFound, id)
	}
	if snap.Status.Terminal() {
		return fmt.Errorf("%w: %d is %s", ErrTransferFinished, id, snap.Status)
	}

	m.mu.RLock()
	cancel, ok := m.tasks[id]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %d", ErrTransferFinished, id)
	}
	cancel()

	logrus.WithFields(logrus.Fields{
		"function":    "Cancel",
		"transfer_id": id,
	}).Info("Cancellation requested")
	return nil
}

// ReceiveChunk processes one raw chunk from the link. It returns the completed
// transfer when this chunk finishes a file, and (nil, nil) while chunks are
// still missing. Malformed, corrupted or contradictory chunks are dropped
// without touching transfer state; the returned error says why.
func (m *Manager) ReceiveChunk(raw []byte) (*CompletedTransfer, error) {
	c, err := chunk.Decode(raw)
	if err != nil {
		m.frameErrors.Add(1)
		logrus.WithFields(logrus.Fields{
			"function":   "ReceiveChunk",
			"frame_size": len(raw),
		}).Warn("Dropped chunk: frame too short")
		return nil, err
	}

	if err := c.Verify(); err != nil {
		m.checksumErrors.Add(1)
		logrus.WithFields(logrus.Fields{
			"function":    "ReceiveChunk",
			"transfer_id": c.TransferID,
			"seq_num":     c.SeqNum,
			"error":       err.Error(),
		}).Warn("Dropped chunk: checksum mismatch")
		return nil, err
	}

	received, err := m.registry.RecordInboundChunk(c.TransferID, c.TotalChunks, c.SeqNum, c.Payload)
	if err != nil {
		m.rejected.Add(1)
		logrus.WithFields(logrus.Fields{
			"function":    "ReceiveChunk",
			"transfer_id": c.TransferID,
			"seq_num":     c.SeqNum,
			"error":       err.Error(),
		}).Warn("Dropped chunk: rejected by registry")
		return nil, err
	}

	m.notifyProgress(c.TransferID, received, c.TotalChunks, DirectionRx)

	logrus.WithFields(logrus.Fields{
		"function":    "ReceiveChunk",
		"transfer_id": c.TransferID,
		"received":    received,
		"total":       c.TotalChunks,
	}).Debug("Received chunk")

	done := m.registry.TryComplete(c.TransferID)
	if done == nil {
		return nil, nil
	}

	logrus.WithFields(logrus.Fields{
		"function":     "ReceiveChunk",
		"transfer_id":  done.TransferID,
		"size":         done.Size,
		"total_chunks": done.TotalChunks,
	}).Info("Assembled inbound transfer")

	m.mu.RLock()
	callback := m.completeCallback
	m.mu.RUnlock()
	if callback != nil {
		callback(done)
	}

	return done, nil
}

// handleChunkPacket adapts ReceiveChunk to the transport handler signature.
func (m *Manager) handleChunkPacket(packet *transport.Packet, addr net.Addr) error {
	_, err := m.ReceiveChunk(packet.Data)
	return err
}

func (m *Manager) notifyProgress(id, count, total uint32, direction Direction) {
	m.mu.RLock()
	callback := m.progressCallback
	m.mu.RUnlock()

	if callback != nil {
		callback(id, count, total, direction)
	}
}

// GetStatus returns a snapshot of any known transfer.
func (m *Manager) GetStatus(id uint32) (StatusSnapshot, bool) {
	return m.registry.GetStatus(id)
}

// ListCompleted returns metadata for completed transfers in direction.
func (m *Manager) ListCompleted(direction Direction) []CompletedInfo {
	return m.registry.ListCompleted(direction)
}

// GetCompletedData returns the bytes of a completed inbound transfer.
func (m *Manager) GetCompletedData(id uint32) ([]byte, bool) {
	return m.registry.GetCompletedData(id)
}

// DropStats returns the number of inbound chunks dropped by cause.
func (m *Manager) DropStats() DropStats {
	return DropStats{
		FrameErrors:    m.frameErrors.Load(),
		ChecksumErrors: m.checksumErrors.Load(),
		Rejected:       m.rejected.Load(),
	}
}

// sweepStale periodically evicts inbound transfers that stopped receiving chunks.
func (m *Manager) sweepStale() {
	defer m.wg.Done()

	interval := m.stallTimeout / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.EvictStale()
		}
	}
}

// EvictStale drops inbound transfers idle for longer than the stall timeout.
func (m *Manager) EvictStale() []uint32 {
	evicted := m.registry.EvictStale(m.stallTimeout)
	for _, id := range evicted {
		logrus.WithFields(logrus.Fields{
			"function":      "EvictStale",
			"transfer_id":   id,
			"stall_timeout": m.stallTimeout,
		}).Warn("Evicted stalled inbound transfer")
	}
	return evicted
}

// Close cancels every in-flight transfer and waits for the send tasks to stop.
func (m *Manager) Close() error {
	m.cancel()
	m.wg.Wait()
	return nil
}
