// Package factory selects the direct connection implementation used by a
// transfer manager.
//
// The factory hides whether connections are real pion WebRTC peer
// connections or the in-memory network from the testing package, so the
// coordinator and its tests share one construction path.
//
// # Usage
//
//	f := factory.NewConnectionFactoryProvider(interfaces.DefaultConnectionConfig())
//
//	connections, err := f.CreateConnectionFactory()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// or, in tests
//	network := f.CreateSimulationForTesting(factory.WithDataChannelLabel("test"))
//
// # Mode Switching
//
//	f.SwitchToSimulation()
//	f.SwitchToReal()
//
// Configuration values normally come from webdrop.Options, which reads YAML
// and WEBDROP_* environment variables.
package factory
