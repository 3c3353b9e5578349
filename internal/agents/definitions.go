package agents

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/voyplan/orchestrator/internal/llm"
)

// Definition is one worker agent declared in the agents config file.
type Definition struct {
	ID             string `yaml:"id"`
	Name           string `yaml:"name"`
	Description    string `yaml:"description"`
	SystemPrompt   string `yaml:"system_prompt"`
	UsePreferences bool   `yaml:"use_preferences"`
}

type definitionsFile struct {
	Agents []Definition `yaml:"agents"`
}

// LoadDefinitions reads worker agent definitions from a YAML file.
func LoadDefinitions(path string) ([]Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read agent definitions: %w", err)
	}
	var f definitionsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse agent definitions: %w", err)
	}
	for i, d := range f.Agents {
		if d.ID == "" {
			return nil, fmt.Errorf("agent definition %d: missing id", i)
		}
	}
	return f.Agents, nil
}

// RegisterDefined builds LLM-backed agents for each definition and registers
// them. Agents flagged use_preferences get the preference reader attached.
func RegisterDefined(reg *Registry, defs []Definition, client llm.CompletionClient, prefs PreferenceReader, logger *zap.Logger) {
	for _, d := range defs {
		agent := NewLLMAgent(d.ID, d.SystemPrompt, client, logger)
		if d.UsePreferences && prefs != nil {
			agent = agent.WithPreferences(prefs)
		}
		reg.Register(Info{ID: d.ID, Name: d.Name, Description: d.Description}, agent)
		logger.Info("Registered agent", zap.String("agent_id", d.ID), zap.String("name", d.Name))
	}
}
