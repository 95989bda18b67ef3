// Package testutil provides fakes and helpers shared by the billboard tests.
//
// MockNATSClient is an in-memory publisher/subscriber standing in for
// natsclient.Client; it records every payload per subject.
//
// FakeMQTTFactory and FakeMQTTClient replace paho so MQTT transports can be
// driven without a broker:
//
//	factory := &testutil.FakeMQTTFactory{}
//	transport := mqtt.NewTransport(cfg, handler, mqtt.WithClientFactory(factory.New))
//	_ = transport.Connect(ctx)
//	factory.Last().Deliver("eoh/chip/ABC/config/138997", []byte(`{"v1":"23.5+"}`))
//
// Sample payloads for Open-Meteo and the logo manifest live in payloads.go.
package testutil
