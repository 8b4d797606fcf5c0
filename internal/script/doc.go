// Package script defines the contract every standard script implements and
// the Host that drives one script instance through its lifecycle.
//
// A Script declares a YAML configuration schema, validates and stores a
// configuration, reports a duration estimate and then runs a short linear
// sequence of remote commands, marking progress with checkpoints:
//
//	host := script.NewHost(sleep.New(100001), script.HostConfig{Name: "sleep", Index: 100001})
//	if err := host.Configure(ctx, []byte("sleep_for: 5")); err != nil {
//	    return err // *script.ExpectedError for bad configuration
//	}
//	err := host.Run(ctx)
//
// Lifecycle rules (configure before run, run at most once) live in the Host;
// script bodies only implement the four methods.
package script
