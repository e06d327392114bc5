// Package messaging keeps the gateway's plain-text message log.
//
// # Overview
//
// Mesh radios carry short text messages on the TEXT_MESSAGE_APP port. The
// package has two parts:
//
//   - [Store]: a bounded, in-memory log of the most recent messages in both
//     directions. Message ids increase monotonically so pollers can ask for
//     everything newer than the last id they saw.
//   - [Manager]: sends text over a transport.Transport and records inbound
//     text packets in the store.
//
// # Usage
//
//	store := messaging.NewStore(messaging.DefaultCapacity)
//	mm := messaging.NewManager(link, store)
//	if _, err := mm.SendText("hello mesh", transport.Broadcast); err != nil {
//	    log.Println(err)
//	}
//	for _, msg := range store.GetAll(lastSeen) {
//	    fmt.Println(msg.Sender, msg.Text)
//	}
//
// Messages are not persisted; the log starts empty on every run.
package messaging
