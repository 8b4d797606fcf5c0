// Package observatory groups salobj remotes into the device groups scripts
// drive: the main telescope control system (MTCS), the auxiliary telescope
// control system (ATCS) and the script queues.
//
// A Group holds one Remote per component and a per-component check flag.
// Group-wide operations (liveliness, enabled assertions, state changes) skip
// components whose checks were disabled, which is how scripts honour an
// "ignore" list.
//
//	mtcs := observatory.NewMTCS(domain, log)
//	mtcs.DisableChecks("mtm1m3")
//	if err := mtcs.AssertAllEnabled(ctx); err != nil {
//	    return err
//	}
//	return mtcs.SlewDomeTo(ctx, 90)
package observatory
