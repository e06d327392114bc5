// Package factory builds the radio link transport selected by configuration.
//
// The factory hides the concrete link from the rest of the gateway so the
// file and messaging managers work the same over a serial radio, a UDP bench
// setup or the in-memory simulator.
//
// # Configuration
//
// Link settings come from config.LinkConfig. Values outside the supported
// bounds are logged and replaced with defaults rather than rejected:
//   - link.baud must lie in [MinBaudRate, MaxBaudRate]
//   - link.loss_rate must lie in [MinLossRate, MaxLossRate]
//
// # Usage
//
//	f := factory.NewLinkFactory(cfg.Link)
//	link, err := f.CreateTransport()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	manager := file.NewManager(link)
//
// # Testing Support
//
// CreateSimulationForTesting returns a lossless simulated network, so tests
// can attach as many nodes as they need.
package factory
