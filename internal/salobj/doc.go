// Package salobj is a small pub/sub remote layer for talking to control
// system components (CSCs) from scripts.
//
// A Remote proxies one component instance (name plus index). It exposes
// commands, which publish a request and wait for the matching
// acknowledgement, and events or telemetry, which cache the latest sample and
// queue new ones for Next.
//
//	dome := salobj.NewRemote(domain, "MTDome", 0)
//	if _, err := dome.Command("crawlAz").SetStart(ctx, salobj.Fields{"velocity": 0.5}, time.Minute); err != nil {
//	    return err
//	}
//	state, err := dome.Event("summaryState").Aget(ctx, 10*time.Second)
//
// Messages travel over a Transport; production uses the MQTT client from
// internal/infrastructure/mqtt and tests use salobjtest.Transport.
package salobj
