// Package mqtt provides MQTT client connectivity for Portal Bridge.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) on the health topic
//
// MQTT is an optional side channel. Device state is mirrored to retained
// topics and commands can be sent without going through the REST API:
//
//	portalbridge/state/{key}    retained device state
//	portalbridge/command/{key}  inbound commands
//	portalbridge/ack/{key}      command results
//	portalbridge/health         retained bridge health, LWT offline
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
//	        key, _ := client.Topics().CommandKey(topic)
//	        return handle(key, payload)
//	    })
package mqtt
