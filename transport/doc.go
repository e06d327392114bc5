// Package transport implements the link layer between the gateway and the mesh
// radio network.
//
// A Transport moves Packets between nodes. Each Packet is addressed to an
// application port, mirroring the mesh firmware: plain text travels on
// PortTextMessage and binary file chunks on PortPrivateApp. Destinations are
// NodeAddr values, either a node id such as "!a1b2c3d4" or Broadcast ("^all").
//
// # Implementations
//
//   - UDPTransport: link frames in UDP datagrams with a static peer table.
//     Useful for bench setups and integration tests without radio hardware.
//   - KISSTransport: link frames wrapped in KISS framing over a byte stream,
//     typically a serial TNC or radio opened with OpenSerial.
//
// Both embed an Endpoint, which owns handler registration, destination
// filtering and the NodeTable of recently heard nodes.
//
// # Handlers
//
// Handlers are registered per port:
//
//	t.RegisterHandler(transport.PortPrivateApp, func(p *transport.Packet, from net.Addr) error {
//	    _, err := manager.ReceiveChunk(p.Data)
//	    return err
//	})
//
// # Errors
//
// Send fails with ErrNotConnected once the transport is closed and with
// limits.ErrFrameTooLarge when a private-app payload exceeds limits.MaxFrameSize.
package transport
