// Package classify implements the resilient RPC client to the external
// Model Classification Service (C7): request/response schema, a
// hand-written JSON codec carried over a real gRPC channel, retry/backoff,
// and a dedicated circuit breaker.
package classify

// Model mirrors the classification service's Model message. Metadata is a
// plain string map; BuildModelList leaves it empty, since provider.ModelInfo
// carries no metadata to convert.
type Model struct {
	ID             string            `json:"id"`
	Name           string            `json:"name"`
	ContextSize    int32             `json:"context_size"`
	MaxTokens      int32             `json:"max_tokens"`
	Provider       string            `json:"provider"`
	DisplayName    string            `json:"display_name"`
	Description    string            `json:"description"`
	CostPerToken   float64           `json:"cost_per_token"`
	Capabilities   []string          `json:"capabilities"`
	Family         string            `json:"family"`
	Type           string            `json:"type"`
	Series         string            `json:"series"`
	Variant        string            `json:"variant"`
	IsDefault      bool              `json:"is_default"`
	IsMultimodal   bool              `json:"is_multimodal"`
	IsExperimental bool              `json:"is_experimental"`
	Version        string            `json:"version"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// LoadedModelList is the request message for ClassifyModels.
type LoadedModelList struct {
	Models          []Model `json:"models"`
	DefaultProvider string  `json:"default_provider"`
	DefaultModel    string  `json:"default_model"`
}

// ClassificationCriteria is the request message for
// ClassifyModelsWithCriteria.
type ClassificationCriteria struct {
	Properties          []string `json:"properties"`
	IncludeExperimental  bool     `json:"include_experimental"`
	IncludeDeprecated    bool     `json:"include_deprecated"`
	MinContextSize       int32    `json:"min_context_size"`
	Hierarchical         bool     `json:"hierarchical"`
}

// ClassifiedModelGroup groups models sharing one property value, e.g.
// {property_name: "family", property_value: "gpt-4", models: [...]}.
type ClassifiedModelGroup struct {
	PropertyName  string  `json:"property_name"`
	PropertyValue string  `json:"property_value"`
	Models        []Model `json:"models"`
}

// HierarchicalModelGroup nests ClassifiedModelGroups when the caller asked
// for Hierarchical grouping.
type HierarchicalModelGroup struct {
	GroupName  string                   `json:"group_name"`
	GroupValue string                   `json:"group_value"`
	Models     []Model                  `json:"models"`
	Children   []HierarchicalModelGroup `json:"children,omitempty"`
}

// ClassifiedModelResponse is the response message shared by both RPCs.
type ClassifiedModelResponse struct {
	ClassifiedGroups   []ClassifiedModelGroup   `json:"classified_groups"`
	AvailableProperties []string                `json:"available_properties"`
	ErrorMessage        string                   `json:"error_message,omitempty"`
	HierarchicalGroups  []HierarchicalModelGroup `json:"hierarchical_groups,omitempty"`
}
