package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"vidsniff/work/logger"
	"vidsniff/work/sniffer"
	"vidsniff/work/types"
)

// showboxResponse is the scrape-API-only answer
type showboxResponse struct {
	OK          bool               `json:"ok"`
	DefaultLink *string            `json:"defaultLink"`
	Qualities   types.ScrapeResult `json:"qualities"`
	Title       string             `json:"title"`
	Subtitles   []json.RawMessage  `json:"subtitles"`
}

// HandleShowbox polls the first scrape API provider of the catalog and
// returns every quality it lists plus the preferred default link.
func HandleShowbox(s *Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := parseMediaRequest(w, r, "")
		if !ok {
			return
		}

		providers, err := s.Catalog.Build(r.Context(), req)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Failed to build catalog", Message: err.Error()})
			return
		}

		var scrapeURL string
		for _, p := range providers {
			if p.Strategy == types.StrategyPollJSON {
				scrapeURL = p.EndpointURL
				break
			}
		}
		if scrapeURL == "" {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: "No scrape provider configured"})
			return
		}

		result, err := s.Poller.Result(r.Context(), scrapeURL)
		if err != nil {
			if errors.Is(err, sniffer.ErrPollTimeout) {
				writeJSON(w, http.StatusBadGateway, errorResponse{Error: "Failed to retrieve showbox JSON"})
				return
			}
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Scrape failed", Message: err.Error()})
			return
		}

		resp := showboxResponse{OK: true, Qualities: result, Subtitles: []json.RawMessage{}}
		if link, found := sniffer.PickDefault(result, s.Config.QualityPriority); found {
			resp.DefaultLink = &link
		}
		if s.Metadata != nil {
			if info, err := s.Metadata.Lookup(r.Context(), req.Type, req.ID); err == nil {
				resp.Title = info.Title
			} else {
				logger.Debug("{handlers/showbox - HandleShowbox} no title for %s: %v", req.SessionKey(), err)
			}
		}
		if s.Subtitles != nil {
			resp.Subtitles = s.Subtitles.Fetch(r.Context(), req.ID)
		}

		writeJSON(w, http.StatusOK, resp)
	}
}
