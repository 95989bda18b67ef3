// Package websocket provides the WebSocket hub that streams facade updates to
// billboard UI clients.
//
// # Overview
//
// Hub implements events.Publisher, so it is attached to the events.Bus next
// to the NATS client. Every envelope the bus emits (data-update,
// status-update, logo-manifest-updated) is written to every connected client
// as a text frame:
//
//	{"type":"data-update","id":"...","domain":"weather","timestamp":"...","payload":{...}}
//
// # Late joiners
//
// The hub keeps the last envelope per subject. A client that connects after
// data has flowed receives those envelopes before any new broadcast, so a UI
// that reloads renders current values immediately.
//
// # Client messages
//
// Clients may request a manual refresh:
//
//	{"type":"refresh","id":"r1","domain":"weather"}
//
// The hub answers with a refresh-result carrying the refresh decision, which
// tells the UI whether to show feedback or ignore a throttled click.
//
// # Connection health
//
// Clients are pinged every PingInterval and dropped when a write fails or no
// pong arrives within ReadTimeout. Writes to a connection are serialized since
// gorilla/websocket forbids concurrent writers.
package websocket
