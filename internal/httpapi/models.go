package httpapi

import (
	"net/http"
	"sort"
	"strings"
	"time"
)

// handleListModels is content-negotiated: an Anthropic client (identified by
// the anthropic-version header or a claude/anthropic user agent) sees only
// the Anthropic allow-list in Anthropic's model-list shape; everyone else
// sees the OpenAI shape with both providers' models. Both lists are sorted
// lexically and drawn straight from the config snapshot.
func (s *server) handleListModels(w http.ResponseWriter, r *http.Request) {
	var snap = struct {
		OpenAIModels    []string
		AnthropicModels []string
	}{}
	if s.deps.Config != nil {
		cur := s.deps.Config.Current()
		snap.OpenAIModels = cur.OpenAIModels
		snap.AnthropicModels = cur.AnthropicModels
	}

	if wantsAnthropicShape(r) {
		models := append([]string(nil), snap.AnthropicModels...)
		sort.Strings(models)
		writeJSON(w, http.StatusOK, anthropicModelListResponse(models))
		return
	}

	models := append([]string(nil), snap.OpenAIModels...)
	models = append(models, snap.AnthropicModels...)
	sort.Strings(models)
	writeJSON(w, http.StatusOK, openAIModelListResponse(models))
}

func wantsAnthropicShape(r *http.Request) bool {
	if r.Header.Get("anthropic-version") != "" {
		return true
	}
	ua := strings.ToLower(r.Header.Get("User-Agent"))
	return strings.Contains(ua, "anthropic") || strings.Contains(ua, "claude")
}

type openAIModelEntry struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

type openAIModelList struct {
	Object string             `json:"object"`
	Data   []openAIModelEntry `json:"data"`
}

func openAIModelListResponse(models []string) openAIModelList {
	now := time.Now().Unix()
	data := make([]openAIModelEntry, len(models))
	for i, m := range models {
		data[i] = openAIModelEntry{ID: m, Object: "model", Created: now, OwnedBy: "system"}
	}
	return openAIModelList{Object: "list", Data: data}
}

type anthropicModelEntry struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	DisplayName string `json:"display_name"`
}

type anthropicModelList struct {
	Data    []anthropicModelEntry `json:"data"`
	HasMore bool                  `json:"has_more"`
}

func anthropicModelListResponse(models []string) anthropicModelList {
	data := make([]anthropicModelEntry, len(models))
	for i, m := range models {
		data[i] = anthropicModelEntry{ID: m, Type: "model", DisplayName: m}
	}
	return anthropicModelList{Data: data}
}
