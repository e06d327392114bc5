// Package sim provides an in-memory mesh link for tests and bench runs.
//
// A Network connects any number of Nodes. Each Node implements
// transport.Transport, so a file.Manager or messaging.Manager can run over
// it unchanged. The network can drop or corrupt packets at configurable
// rates and records every delivery attempt for later inspection.
//
// Example:
//
//	network := sim.NewNetwork(sim.Config{LossRate: 0.1, Seed: 1})
//	a, _ := network.Join("!0000000a")
//	b, _ := network.Join("!0000000b")
//	sender := file.NewManager(a)
//	receiver := file.NewManager(b)
//
// The simulator does not model airtime, collisions or hop limits.
package sim
