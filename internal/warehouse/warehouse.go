// Package warehouse wires the demo warehouse-analysis agent set. The
// agents only shape data so the engine has something realistic to drive;
// real forecasting, risk, and sustainability math live outside this repo.
package warehouse

import (
	"context"
	"fmt"

	"github.com/khanfawwaz/IBMxORCHESTRATE/pkg/agent"
	"github.com/khanfawwaz/IBMxORCHESTRATE/pkg/models"
)

func subject(tc agent.TaskContext) string {
	sku, _ := tc.Run["sku"].(string)
	if sku == "" {
		sku = "SKU-0000"
	}
	return sku
}

// RegisterAgents registers the eight demo agents with the registry.
func RegisterAgents(reg *agent.Registry) error {
	agents := []agent.Agent{
		agent.New("sales_agent", "Sales Data Analyst",
			[]string{"data_collection", "data_analysis"},
			func(ctx context.Context, tc agent.TaskContext) (agent.TaskResult, error) {
				return agent.TaskResult{
					Payload: map[string]any{
						"sku":           subject(tc),
						"daily_units":   []float64{112, 98, 120, 131, 104, 117, 125},
						"weekly_growth": 0.04,
					},
					Confidence: 0.9,
				}, nil
			}),
		agent.New("social_agent", "Social Trend Analyst",
			[]string{"data_collection", "data_analysis"},
			func(ctx context.Context, tc agent.TaskContext) (agent.TaskResult, error) {
				return agent.TaskResult{
					Payload: map[string]any{
						"sku":            subject(tc),
						"mention_volume": 840,
						"sentiment":      0.62,
					},
					Confidence: 0.7,
				}, nil
			}),
		agent.New("signal_agent", "Signal Processor",
			[]string{"data_analysis", "optimization"},
			func(ctx context.Context, tc agent.TaskContext) (agent.TaskResult, error) {
				boost := 0.0
				if social, ok := tc.Input("collect_social"); ok {
					if m, ok := social.Payload.(map[string]any); ok {
						if s, ok := m["sentiment"].(float64); ok && s > 0.5 {
							boost = 0.05
						}
					}
				}
				return agent.TaskResult{
					Payload:    map[string]any{"demand_signal": 1.0 + boost},
					Confidence: 0.75,
				}, nil
			}),
		newForecastAgent(),
		agent.New("supply_agent", "Supply Chain Manager",
			[]string{"data_analysis", "optimization"},
			func(ctx context.Context, tc agent.TaskContext) (agent.TaskResult, error) {
				return agent.TaskResult{
					Payload: map[string]any{
						"sku":            subject(tc),
						"stock_on_hand":  430,
						"reorder_needed": true,
						"reorder_qty":    250,
						"lead_time_days": 9,
					},
					Confidence: 0.9,
				}, nil
			}),
		agent.New("risk_agent", "Risk Analyst",
			[]string{"data_analysis", "decision_making"},
			func(ctx context.Context, tc agent.TaskContext) (agent.TaskResult, error) {
				risk := "low"
				if _, ok := tc.Input("check_supply"); !ok {
					risk = "unknown"
				}
				return agent.TaskResult{
					Payload:    map[string]any{"stockout_risk": risk, "risk_score": 0.18},
					Confidence: 0.8,
				}, nil
			}),
		agent.New("sustainability_agent", "Sustainability Expert",
			[]string{"data_analysis", "optimization"},
			func(ctx context.Context, tc agent.TaskContext) (agent.TaskResult, error) {
				return agent.TaskResult{
					Payload:    map[string]any{"co2_kg_per_unit": 1.4, "greener_alternative": "rail freight"},
					Confidence: 0.65,
				}, nil
			}),
		agent.New("xai_agent", "XAI Explainer",
			[]string{"explanation", "ml_prediction"},
			func(ctx context.Context, tc agent.TaskContext) (agent.TaskResult, error) {
				summary := fmt.Sprintf("Demand for %s is trending up; restock before lead time runs out.", subject(tc))
				return agent.TaskResult{
					Payload:    map[string]any{"explanation": summary},
					Confidence: 0.7,
				}, nil
			}),
	}
	for _, a := range agents {
		if err := reg.Register(a); err != nil {
			return err
		}
	}
	return nil
}

// newForecastAgent keeps a per-SKU adjustment in its own memory, nudging
// repeat forecasts for the same subject.
func newForecastAgent() agent.Agent {
	var a *agent.FuncAgent
	a = agent.New("forecast_agent", "ML Forecaster",
		[]string{"ml_prediction", "data_analysis"},
		func(ctx context.Context, tc agent.TaskContext) (agent.TaskResult, error) {
			sku := subject(tc)
			signal := 1.0
			if sig, ok := tc.Input("filter_signals"); ok {
				if m, ok := sig.Payload.(map[string]any); ok {
					if v, ok := m["demand_signal"].(float64); ok {
						signal = v
					}
				}
			}
			adjustment := 1.0
			if v, ok := a.Memory().Retrieve("adjustment:" + sku); ok {
				if f, ok := v.(float64); ok {
					adjustment = f
				}
			}
			base := 118.0 * signal * adjustment
			forecast := []float64{base, base * 1.02, base * 1.05, base * 1.04}
			a.Memory().StoreShortTerm(agent.Record{"sku": sku, "signal": signal})
			a.Memory().StoreLongTerm("adjustment:"+sku, adjustment*1.01)
			return agent.TaskResult{
				Payload: map[string]any{
					"sku":      sku,
					"forecast": forecast,
					"trend":    "increasing",
				},
				Confidence: 0.85,
			}, nil
		})
	return a
}

// AnalysisWorkflow returns the predefined eight-step inventory analysis
// graph: sales and social collection fan in through signal filtering and
// forecasting to supply, risk, sustainability, and explanation steps.
func AnalysisWorkflow() models.Workflow {
	return models.Workflow{
		ID:          "complete_analysis",
		Name:        "Complete Inventory Analysis",
		Description: "Full analysis including forecasting, risk, and sustainability",
		Parallel:    true,
		Steps: []models.Step{
			{ID: "collect_sales", AgentID: "sales_agent"},
			{ID: "collect_social", AgentID: "social_agent", Optional: true},
			{ID: "filter_signals", AgentID: "signal_agent", DependsOn: []string{"collect_social"}, Optional: true},
			{ID: "generate_forecast", AgentID: "forecast_agent", DependsOn: []string{"collect_sales", "filter_signals"}, MaxRetries: 2},
			{ID: "check_supply", AgentID: "supply_agent", DependsOn: []string{"generate_forecast"}},
			{ID: "analyze_risk", AgentID: "risk_agent", DependsOn: []string{"generate_forecast", "check_supply"}},
			{ID: "calculate_sustainability", AgentID: "sustainability_agent", DependsOn: []string{"check_supply"}, Optional: true},
			{ID: "explain_decision", AgentID: "xai_agent", DependsOn: []string{"generate_forecast", "analyze_risk"}},
		},
	}
}
