package stages

import "github.com/helion-systems/helion/internal/pipeline"

// RegisterAll binds every stage's constructor into reg, closing over pc so
// each constructed Node shares the one PluginContext built for this bot
// (spec.md §4.13 step 1). Call once per bot, before pipeline.Compile.
func RegisterAll(reg *pipeline.Registry, pc *PluginContext) {
	reg.Register("coins_pick", func(config map[string]interface{}) (pipeline.Node, error) {
		return NewCoinsPickStage(pc, config)
	})
	reg.Register("market_data", func(config map[string]interface{}) (pipeline.Node, error) {
		return NewMarketDataStage(pc, config)
	})
	reg.Register("filter", func(config map[string]interface{}) (pipeline.Node, error) {
		return NewFilterStage(pc, config)
	})
	reg.Register("regime", func(config map[string]interface{}) (pipeline.Node, error) {
		return NewRegimeStage(pc, config)
	})
	reg.Register("batch_decision", func(config map[string]interface{}) (pipeline.Node, error) {
		return NewBatchDecisionStage(pc, config)
	})
	reg.Register("debate_decision", func(config map[string]interface{}) (pipeline.Node, error) {
		return NewDebateDecisionStage(pc, config)
	})
	reg.Register("execution", func(config map[string]interface{}) (pipeline.Node, error) {
		return NewExecutionStage(pc, config)
	})
}
