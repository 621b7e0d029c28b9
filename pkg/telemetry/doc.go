// Package telemetry provides observability instrumentation for pathguard.
//
// It integrates structured logging (zerolog), distributed tracing
// (OpenTelemetry), metrics (Prometheus) and event publishing.
//
// # Usage
//
// Initialize telemetry at application startup:
//
//	cfg := telemetry.FromAppConfig(appCfg.Telemetry, version)
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	srv := telemetry.NewServer(cfg.Metrics, tel.Metrics, statusHandler, tel.Logger.Zerolog())
//	if err := srv.Start(); err != nil {
//	    return err
//	}
//
// # Metrics
//
// All metrics live in the pathguard namespace:
//
//	failover_switch_events_total{group,direction}
//	failover_group_phase{group}               0 primary active, 1 backup active
//	failover_group_active{group,interface}    1 for the active member
//	monitoring_active
//	health_probes_total{device,result}        result is healthy, unhealthy or error
//	health_probe_duration_seconds{device}
//	interface_up{device,interface}
//	interface_speed_bits{device,interface}
//	intents_compiled_total{result}
//	config_pushes_total{device,result}
//	policy_violations_total{policy}
//	build_info{version}
//
// A Metrics built with metrics disabled accepts every call and records nothing.
//
// # Events
//
// The EventPublisher buffers events and delivers them in batches to
// subscribers, optionally filtered by type, level, group or device. The
// switch history store subscribes to failover events this way.
//
// # HTTP
//
// Server serves the metrics handler, a JSON status view at /status and a
// liveness probe at /healthz.
package telemetry
