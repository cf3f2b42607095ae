package observability

// ─── SLO Gates ──────────────────────────────────────────────────────────────

// SLOConfig holds the deployment-gate thresholds.
type SLOConfig struct {
	P95MS          float64 // blocking
	MaxMisfireRate float64 // blocking
	MinUptimePct   float64 // blocking
	MaxCostPerTask float64 // warning
	MinWinRate     float64 // warning
}

// GateResult is one evaluated gate.
type GateResult struct {
	Name     string  `json:"name"`
	Value    float64 `json:"value"`
	Limit    float64 `json:"limit"`
	Passed   bool    `json:"passed"`
	Blocking bool    `json:"blocking"`
	// NoData marks gates whose signal is absent (e.g. no win-rate samples);
	// such gates pass with a warning rather than blocking a deploy on
	// missing telemetry.
	NoData bool `json:"no_data,omitempty"`
}

// SLOReport is the full gate evaluation consumed by the external
// deployment validator.
type SLOReport struct {
	Gates   []GateResult `json:"gates"`
	Healthy bool         `json:"healthy"` // all blocking gates passed
}

// EvaluateSLO runs the gates against the current window statistics.
func EvaluateSLO(cfg SLOConfig, st WindowStats) SLOReport {
	gates := []GateResult{
		{
			Name:     "latency_p95_ms",
			Value:    st.LatencyP95,
			Limit:    cfg.P95MS,
			Passed:   st.LatencyP95 <= cfg.P95MS,
			Blocking: true,
		},
		{
			Name:     "failover_misfire_rate",
			Value:    st.MisfireRate,
			Limit:    cfg.MaxMisfireRate,
			Passed:   st.MisfireRate <= cfg.MaxMisfireRate,
			Blocking: true,
		},
		{
			Name:     "uptime_pct",
			Value:    st.UptimePct,
			Limit:    cfg.MinUptimePct,
			Passed:   st.UptimePct >= cfg.MinUptimePct,
			Blocking: true,
		},
		{
			Name:     "cost_per_task_usd",
			Value:    st.CostMean,
			Limit:    cfg.MaxCostPerTask,
			Passed:   cfg.MaxCostPerTask <= 0 || st.CostMean <= cfg.MaxCostPerTask,
			Blocking: false,
		},
	}

	win := GateResult{
		Name:     "win_rate",
		Value:    st.WinRate,
		Limit:    cfg.MinWinRate,
		Blocking: false,
	}
	if st.WinRateSamples == 0 {
		win.Passed = true
		win.NoData = true
	} else {
		win.Passed = st.WinRate >= cfg.MinWinRate
	}
	gates = append(gates, win)

	report := SLOReport{Gates: gates, Healthy: true}
	for _, g := range gates {
		if g.Blocking && !g.Passed {
			report.Healthy = false
		}
	}
	return report
}
