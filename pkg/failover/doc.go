// Package failover keeps failover groups on a healthy interface.
//
// An Orchestrator owns a set of devices, each reached through a
// transports.Transport, and the failover groups of their compiled
// configurations. While monitoring, every group runs its own cycle on a
// fixed interval:
//
//	probe the active interface
//	unhealthy: count a failure; at FailureThreshold switch to a backup
//	healthy:   clear failures; on a backup, probe the first primary and
//	           fail back after RecoveryThreshold consecutive healthy probes
//
// Switching is make-before-break: the new interface is enabled before the
// old one is disabled, and the old one stays enabled if that fails. All
// calls to one device are serialized, and every call is bounded by
// ProbeTimeout. A cycle cancelled mid-probe changes nothing, and a switch is
// committed once the new interface has been enabled.
//
// Orchestrator events are delivered to a MetricsSink. TelemetrySink maps
// them to Prometheus metrics and the telemetry event stream.
package failover
