// Package api provides the bridge's HTTP API.
//
// It is a read-mostly troubleshooting surface next to MQTT:
//
//	GET  /api/v1/health                      bridge health document
//	GET  /api/v1/ready                       dependency checks, 503 when one fails
//	GET  /api/v1/metrics                     runtime, engine and database counters
//	GET  /api/v1/displays                    configured displays with state
//	GET  /api/v1/displays/{index}            one display
//	PUT  /api/v1/displays/{index}/{feature}  apply a value via the command router
//	POST /api/v1/reconcile                   run a reconciliation pass now
//	GET  /api/v1/commands                    command log
//
// PUT requests take the same path as MQTT commands, so validation, the
// per-display lease and state publication are identical.
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
package api
