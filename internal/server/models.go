package server

import (
	"encoding/json"
	"net/http"
)

// openRouterModelsURL is the public model catalog endpoint.
const openRouterModelsURL = "https://openrouter.ai/api/v1/models"

// ModelPricing is per-token pricing as decimal strings.
type ModelPricing struct {
	Prompt     string `json:"prompt,omitempty"`
	Completion string `json:"completion,omitempty"`
	Image      string `json:"image,omitempty"`
}

// ModelArchitecture describes a model's supported modalities.
type ModelArchitecture struct {
	Modality         string   `json:"modality,omitempty"`
	InputModalities  []string `json:"input_modalities,omitempty"`
	OutputModalities []string `json:"output_modalities,omitempty"`
}

// ModelInfo is one catalog entry.
type ModelInfo struct {
	ID            string             `json:"id"`
	Name          string             `json:"name"`
	Description   string             `json:"description,omitempty"`
	ContextLength int                `json:"context_length,omitempty"`
	Pricing       *ModelPricing      `json:"pricing,omitempty"`
	Architecture  *ModelArchitecture `json:"architecture,omitempty"`
}

// ModelsResponse is the body of GET /models.
type ModelsResponse struct {
	Models []ModelInfo `json:"models"`
	Total  int         `json:"total"`
}

// catalogModel is the upstream catalog entry shape. The catalog uses both
// snake_case and camelCase field names depending on the entry's age.
type catalogModel struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	Description   string        `json:"description"`
	ContextLength int           `json:"context_length"`
	Pricing       *ModelPricing `json:"pricing"`
	Architecture  *struct {
		Modality          string   `json:"modality"`
		InputModalities   []string `json:"input_modalities"`
		OutputModalities  []string `json:"output_modalities"`
		InputModalities2  []string `json:"inputModalities"`
		OutputModalities2 []string `json:"outputModalities"`
	} `json:"architecture"`
}

type catalogResponse struct {
	Data []catalogModel `json:"data"`
}

// handleListModels proxies the OpenRouter model catalog, filtered to priced
// text-output models.
func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, s.catalogURL, nil)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, "Error fetching models: %v", err)
		return
	}
	if key := s.currentSettings().OpenRouterAPIKey; key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.logger.Error("fetch model catalog", "error", err)
		writeDetail(w, http.StatusBadGateway, "Failed to connect to OpenRouter API: %v", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		s.logger.Error("model catalog error", "status", resp.StatusCode)
		writeDetail(w, http.StatusBadGateway, "OpenRouter API error: %d", resp.StatusCode)
		return
	}

	var catalog catalogResponse
	if err := json.NewDecoder(resp.Body).Decode(&catalog); err != nil {
		writeDetail(w, http.StatusBadGateway, "Error fetching models: %v", err)
		return
	}

	out := ModelsResponse{Models: make([]ModelInfo, 0, len(catalog.Data))}
	for _, m := range catalog.Data {
		if !textCapable(m) || !hasPricing(m.Pricing) {
			continue
		}
		info := ModelInfo{
			ID:            m.ID,
			Name:          m.Name,
			Description:   m.Description,
			ContextLength: m.ContextLength,
			Pricing:       m.Pricing,
		}
		if info.Name == "" {
			info.Name = m.ID
		}
		if m.Architecture != nil {
			info.Architecture = &ModelArchitecture{
				Modality:         m.Architecture.Modality,
				InputModalities:  firstNonEmpty(m.Architecture.InputModalities, m.Architecture.InputModalities2),
				OutputModalities: firstNonEmpty(m.Architecture.OutputModalities, m.Architecture.OutputModalities2),
			}
		}
		out.Models = append(out.Models, info)
	}
	out.Total = len(out.Models)

	s.logger.Info("model catalog fetched", "total", out.Total)
	writeJSON(w, http.StatusOK, out)
}

// textCapable reports whether the model produces text output. Entries with
// no declared modalities are assumed to be text models.
func textCapable(m catalogModel) bool {
	if m.Architecture == nil {
		return true
	}
	outputs := firstNonEmpty(m.Architecture.OutputModalities, m.Architecture.OutputModalities2)
	if len(outputs) == 0 {
		return true
	}
	for _, mod := range outputs {
		if mod == "text" {
			return true
		}
	}
	return false
}

// hasPricing reports whether the entry carries usable pricing, a proxy for
// the model actually being available.
func hasPricing(p *ModelPricing) bool {
	return p != nil && (p.Prompt != "" || p.Completion != "")
}

func firstNonEmpty(a, b []string) []string {
	if len(a) > 0 {
		return a
	}
	return b
}
