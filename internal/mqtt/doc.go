// Package mqtt delivers monitor escalations to operators over MQTT.
//
// The escalator uses Eclipse Paho v2's [autopaho] package for
// connection management with automatic reconnection. On every
// (re-)connect it publishes a birth message ("online") to the
// retained availability topic; a will message flips it to "offline"
// on unexpected disconnects. Escalations are published with QoS 1 to
// <prefix>/escalations, and a periodic status snapshot is retained at
// <prefix>/status.
package mqtt
