// Package influxdb records script execution metrics in InfluxDB.
//
// Each finished run becomes one "script_run" point tagged with the script
// name, queue index and final state, carrying the elapsed time, the
// estimated duration and the number of checkpoints reached. Every
// checkpoint is also written as a "script_checkpoint" point as it happens,
// so a dashboard can follow a long run. Writes are
// non-blocking and batched according to the influxdb section of the
// configuration.
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteScriptRun(influxdb.ScriptRun{Script: "sleep", Index: 100001, State: "DONE"})
//
// All methods are safe for concurrent use.
package influxdb
