// Package influxdb writes bridge telemetry to InfluxDB v2.
//
// The Client is an engine.Observer: every published state change, command
// outcome and reconciliation tick becomes a point in the display_state,
// display_command or reconcile_tick measurement, tagged with the bridge ID.
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB, cfg.Bridge.ID)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//	eng.SetObserver(engine.Observers{recorder, client})
//
// Writes are non-blocking and batched according to batch_size and
// flush_interval. Asynchronous write errors are delivered to the callback
// set with SetOnError; connection and health check errors are returned
// directly.
package influxdb
