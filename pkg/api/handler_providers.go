package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// ListProviders handles GET /api/llm-providers: the union of the gateway's
// own provider tags and the catalogs agents advertised at registration.
func (s *Server) ListProviders(c *gin.Context) {
	if s.providers.Empty() {
		c.JSON(http.StatusServiceUnavailable, errorBody("no LLM providers configured"))
		return
	}

	type providerEntry struct {
		ID     string   `json:"id"`
		Name   string   `json:"name"`
		Models []string `json:"models,omitempty"`
	}

	var entries []providerEntry
	seen := make(map[string]bool)
	for _, tag := range s.providers.Tags() {
		entries = append(entries, providerEntry{ID: tag, Name: tag})
		seen[tag] = true
	}
	for _, p := range s.agents.AdvertisedProviders() {
		if !seen[p.ID] {
			seen[p.ID] = true
			entries = append(entries, providerEntry{ID: p.ID, Name: p.Name, Models: p.Models})
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"success":          true,
		"providers":        entries,
		"default_provider": s.providers.Default(),
		"count":            len(entries),
		"timestamp":        time.Now().UTC().Format(time.RFC3339),
	})
}
