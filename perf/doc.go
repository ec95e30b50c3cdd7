// Package perf runs steadyrate load tests from Go code.
//
// It exposes the same pipeline as the steadyrate CLI: a configuration is
// loaded, validated and compiled into a scenario, the engine starts
// iterations at a constant arrival rate, and the returned Report carries the
// metrics and the threshold verdict.
//
// # Quick Start
//
//	cfg, err := perf.LoadConfig("wallet.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	report, err := perf.Run(context.Background(), cfg)
//	if err != nil && report == nil {
//	    log.Fatal(err)
//	}
//
//	fmt.Printf("Verdict: %s\n", report.Verdict)
//	fmt.Printf("P95: %v\n", report.Metrics.Latency.P95)
//	os.Exit(report.ExitCode())
//
// # Custom Test Configuration
//
// Configurations can be built in code:
//
//	cfg := &perf.Config{
//	    Name:     "health",
//	    Scenario: &perf.ScenarioConfig{Rate: 100, Duration: "1m", MaxVUs: 50},
//	    Workload: []perf.VariantConfig{
//	        {Name: "health", Weight: 1, URL: "https://api.example.com/health"},
//	    },
//	    Thresholds: perf.Thresholds{
//	        "http_req_duration": {{Threshold: "p(95)<200"}},
//	        "http_req_failed":   {{Threshold: "rate<=0.01"}},
//	    },
//	}
//
// # Live Metrics
//
// Observers receive every iteration as it completes. A Prometheus observer
// is provided:
//
//	prom := perf.NewPrometheusObserver(nil)
//	go http.ListenAndServe(":9090", prom.Handler())
//	report, err := perf.Run(ctx, cfg, perf.WithObservers(prom))
package perf
