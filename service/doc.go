// Package service holds what the billboard synchronization facades share:
// the Facade contract, the Base each facade embeds, and the Manager that
// keeps exactly one instance of each facade alive for the whole process.
//
// A facade owns one transport, one snapshot, one connection status and two
// subscription registries (data and status). Consumers never touch the
// transport; they subscribe:
//
//	svc := service.GetOrCreate(mgr, iot.Name, func() *iot.Service {
//	    return iot.New(cfg.IoT, deps)
//	})
//	unsubscribe := svc.OnDataUpdate(func(s iot.SensorSnapshot) { render(s) })
//	defer unsubscribe()
//
// GetOrCreate memoizes by name, so every caller asking for "iot" shares the
// same MQTT session instead of opening its own.
//
// The Manager serves /health, /healthz, /readyz and /services over HTTP.
package service
