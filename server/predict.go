package server

import (
	"log/slog"
	"net/http"
	"strings"

	"healthassist/herr"
	"healthassist/metrics"
	"healthassist/predict"
)

type predictRequest struct {
	Symptoms []string `json:"symptoms"`
	TopK     *int     `json:"top_k"`
}

func (s *Server) handleSymptoms(w http.ResponseWriter, r *http.Request) *herr.Error {
	herr.JSON(w, http.StatusOK, map[string][]string{"symptoms": s.predict.Symptoms()})
	return nil
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) *herr.Error {
	var req predictRequest
	if e := decodeJSON(w, r, &req); e != nil {
		return e
	}

	topK := predict.DefaultTopK
	if req.TopK != nil {
		topK = *req.TopK
	}

	resp, err := s.predict.Predict(r.Context(), req.Symptoms, topK)
	if err != nil {
		return herr.From(err, "predicting")
	}
	metrics.RecordPrediction(resp.Degraded)

	if wantsText(r) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="health_assist_report.txt"`)
		if err := predict.WriteReport(w, resp); err != nil {
			slog.Error("Error writing prediction report", "error", err)
		}
		return nil
	}

	herr.JSON(w, http.StatusOK, resp)
	return nil
}

// wantsText reports whether the caller asked for the plain text report,
// either with ?format=text or an Accept header that lists text/plain before
// any JSON type.
func wantsText(r *http.Request) bool {
	if r.URL.Query().Get("format") == "text" {
		return true
	}
	for _, part := range strings.Split(r.Header.Get("Accept"), ",") {
		mediaType, _, _ := strings.Cut(strings.TrimSpace(part), ";")
		switch mediaType {
		case "text/plain":
			return true
		case "application/json", "*/*":
			return false
		}
	}
	return false
}
