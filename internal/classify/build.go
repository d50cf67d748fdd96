package classify

import "github.com/NICxKMS/chat-gateway/internal/provider"

// BuildModelList flattens the registry's aggregated provider descriptors
// into a LoadedModelList ready to send to ClassifyModels. Entries missing
// an ID are skipped rather than sent with an empty identifier.
func BuildModelList(descriptors map[string]provider.Descriptor, defaultProvider, defaultModel string) LoadedModelList {
	list := LoadedModelList{DefaultProvider: defaultProvider, DefaultModel: defaultModel}

	for name, desc := range descriptors {
		for _, m := range desc.Models {
			if m.ID == "" {
				continue
			}
			list.Models = append(list.Models, Model{
				ID:           m.ID,
				Name:         m.Name,
				ContextSize:  int32(m.TokenLimit),
				MaxTokens:    int32(m.TokenLimit),
				Provider:     name,
				DisplayName:  m.Name,
				Description:  m.Description,
				IsMultimodal: m.Features.Vision,
				Capabilities: capabilitiesFor(m.Features),
			})
		}
	}

	return list
}

func capabilitiesFor(f provider.Features) []string {
	var caps []string
	if f.Streaming {
		caps = append(caps, "streaming")
	}
	if f.Vision {
		caps = append(caps, "vision")
	}
	if f.Tools {
		caps = append(caps, "tools")
	}
	if f.JSON {
		caps = append(caps, "json")
	}
	if f.System {
		caps = append(caps, "system")
	}
	if f.FunctionCalling {
		caps = append(caps, "function_calling")
	}
	return caps
}
