// Package telemetry wires structured logging (zerolog), tracing
// (OpenTelemetry) and Prometheus metrics for pageflow.
//
// Metrics implements both engine.Observer and auth.Observer, so a single
// collector is handed to the Poller and to the login Flow:
//
//	tel, err := telemetry.NewTelemetry(telemetry.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	poller := engine.NewPoller(driver,
//	    engine.WithLogger(tel.Logger.Zerolog()),
//	    engine.WithObserver(tel.Metrics))
//	flow := auth.NewFlow(it, cfg,
//	    auth.WithObserver(tel.Metrics),
//	    auth.WithTracer(tel.Tracer.OTel()))
//
// # Metrics
//
//	polls_total{condition,result}          element waits
//	poll_duration_seconds{condition}       time spent waiting
//	retry_rounds{result}                   rounds per retry-with-verification
//	barrier_waits_total{result}            busy-indicator waits
//	login_outcomes_total{outcome}          finished logins
//	login_duration_seconds{outcome}        login wall time
//	state_transitions_total{from,to}       login state machine edges
//	otc_attempts_total{result}             one-time code submissions
//
// All names carry the configured namespace prefix. A Metrics built with
// metrics disabled ignores every Record call.
package telemetry
