// Package mqtt provides MQTT client connectivity for the DDC bridge.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) on the bridge status topic
//   - Connection health monitoring
//
// # Topics
//
// Every topic lives under a configurable prefix (default "ddc"):
//
//	{prefix}/display/{index}/{feature}/state   retained symbolic value
//	{prefix}/display/{index}/availability      retained online|offline
//	{prefix}/command/{index}:{feature}         inbound commands
//	{prefix}/status                            retained online|offline, LWT
//	{prefix}/health                            retained JSON health report
//
// Home Assistant discovery documents are published under the discovery
// prefix (default "homeassistant").
//
// # Security Considerations
//
//   - Enable TLS when the broker is not on the same host (cfg.Broker.TLS=true)
//   - Anonymous access is only for local development
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(client.Topics().AllCommands(), 1,
//	    func(topic string, payload []byte) error {
//	        id, _ := client.Topics().CommandIdentifier(topic)
//	        log.Printf("command %s = %s", id, payload)
//	        return nil
//	    })
package mqtt
