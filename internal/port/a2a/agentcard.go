package a2a

// BuildAgentCard returns a static AgentCard for the Parley service.
func BuildAgentCard(baseURL string) AgentCard {
	return AgentCard{
		Name:        "Parley",
		Description: "Conversational agent runtime with planning, tools and human approval",
		URL:         baseURL,
		Version:     "0.1.0",
		Skills: []Skill{
			{
				ID:          "converse",
				Name:        "Converse",
				Description: "Answer a message using the full plan/act/reflect loop and registered tools",
				InputModes:  []string{"text"},
				OutputModes: []string{"text"},
			},
		},
		Capabilities: struct {
			Streaming bool `json:"streaming"`
		}{Streaming: true},
	}
}
