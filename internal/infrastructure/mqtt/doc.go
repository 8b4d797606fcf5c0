// Package mqtt provides the MQTT transport between scripts and the
// components they command.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for runner offline detection
//   - Topic naming for SAL components and script instances
//
// # Topic layout
//
//	lsst/{ns}/sal/{Component}/{index}/cmd/{command}
//	lsst/{ns}/sal/{Component}/{index}/ack
//	lsst/{ns}/sal/{Component}/{index}/evt/{event}
//	lsst/{ns}/sal/{Component}/{index}/tel/{topic}
//	lsst/{ns}/script/{index}/{state|checkpoint|metadata|log|largeFileObjectAvailable}
//	lsst/{ns}/system/runner/{client_id}/status
//
// The namespace comes from the site configuration and keeps sites and test
// runs sharing one broker apart.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, mqtt.Topics{Namespace: cfg.Site.Namespace})
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
// Tests that need a broker skip when nothing listens on 127.0.0.1:1883.
package mqtt
