package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.bug.st/serial"
)

// serialReadTimeout bounds each blocking read so Close is noticed promptly.
const serialReadTimeout = 100 * time.Millisecond

// KISSTransport carries link packets as KISS frames over a byte stream such as
// a serial TNC. The radio is a shared medium, so every packet is transmitted
// once and receivers filter by destination.
type KISSTransport struct {
	*Endpoint

	rw      io.ReadWriteCloser
	writeMu sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// OpenSerial opens a serial port at baud and returns a KISS transport on it.
func OpenSerial(portName string, baud int, node NodeAddr) (*KISSTransport, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, err
	}
	if err := port.SetReadTimeout(serialReadTimeout); err != nil {
		_ = port.Close()
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function": "OpenSerial",
		"port":     portName,
		"baud":     baud,
		"node":     node.String(),
	}).Info("Opened serial radio link")

	return NewKISSTransport(port, node), nil
}

// NewKISSTransport starts a KISS transport on rw.
func NewKISSTransport(rw io.ReadWriteCloser, node NodeAddr) *KISSTransport {
	ctx, cancel := context.WithCancel(context.Background())
	t := &KISSTransport{
		Endpoint: NewEndpoint(node),
		rw:       rw,
		ctx:      ctx,
		cancel:   cancel,
	}

	t.wg.Add(1)
	go t.readFrames()

	return t
}

// Send writes a packet to the link as one KISS frame.
func (t *KISSTransport) Send(packet *Packet, addr net.Addr) error {
	out, err := t.Prepare(packet, addr)
	if err != nil {
		return err
	}

	data, err := out.Serialize()
	if err != nil {
		return err
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if _, err := t.rw.Write(buildKISSFrame(data)); err != nil {
		if t.IsClosed() {
			return ErrNotConnected
		}
		return err
	}
	return nil
}

// Close stops the reader and closes the underlying stream.
func (t *KISSTransport) Close() error {
	if !t.MarkClosed() {
		return nil
	}
	t.cancel()
	err := t.rw.Close()
	t.wg.Wait()
	return err
}

// readFrames reads the stream, reassembles KISS frames and delivers packets.
func (t *KISSTransport) readFrames() {
	defer t.wg.Done()

	buf := make([]byte, 1024)
	var pending []byte

	for {
		select {
		case <-t.ctx.Done():
			return
		default:
		}

		n, err := t.rw.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			var frames [][]byte
			frames, pending = extractKISSFrames(pending)
			for _, frame := range frames {
				t.deliverFrame(frame)
			}
		}
		if err != nil {
			if !t.IsClosed() && !errors.Is(err, io.EOF) {
				logrus.WithFields(logrus.Fields{
					"function": "readFrames",
					"error":    err.Error(),
				}).Error("Serial link read failed, stopping reader")
			}
			return
		}
	}
}

// deliverFrame parses one unescaped frame and hands it to the endpoint.
func (t *KISSTransport) deliverFrame(frame []byte) {
	packet, err := ParsePacket(frame)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":   "deliverFrame",
			"frame_size": len(frame),
			"error":      err.Error(),
		}).Debug("Discarding malformed KISS frame")
		return
	}
	t.Deliver(packet)
}
