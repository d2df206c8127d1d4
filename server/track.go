package server

import (
	"net/http"

	"healthassist/herr"
	"healthassist/identity"
	"healthassist/metrics"
	"healthassist/telemetry"
)

type savedResponse struct {
	OK    bool             `json:"ok"`
	Saved telemetry.Record `json:"saved"`
}

func resolveUser(r *http.Request) (string, *herr.Error) {
	userID, err := identity.FromRequest(r)
	if err != nil {
		return "", herr.From(err, "resolving user id")
	}
	return userID, nil
}

func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request) *herr.Error {
	userID, e := resolveUser(r)
	if e != nil {
		return e
	}

	rec, err := telemetry.ParseRecord(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return herr.From(err, "parsing telemetry record")
	}

	saved, err := s.telemetry.Append(r.Context(), userID, rec)
	if err != nil {
		return herr.From(err, "appending telemetry")
	}
	metrics.RecordTelemetryAppend("client")

	herr.JSON(w, http.StatusOK, savedResponse{OK: true, Saved: saved})
	return nil
}

func (s *Server) handleTrackSample(w http.ResponseWriter, r *http.Request) *herr.Error {
	userID, e := resolveUser(r)
	if e != nil {
		return e
	}

	saved, err := s.telemetry.AppendSynthetic(r.Context(), userID)
	if err != nil {
		return herr.From(err, "appending synthetic telemetry")
	}
	metrics.RecordTelemetryAppend("synthetic")

	herr.JSON(w, http.StatusOK, savedResponse{OK: true, Saved: saved})
	return nil
}

func (s *Server) handleTrackSeries(w http.ResponseWriter, r *http.Request) *herr.Error {
	userID, e := resolveUser(r)
	if e != nil {
		return e
	}
	herr.JSON(w, http.StatusOK, map[string][]telemetry.Record{"series": s.telemetry.Read(userID)})
	return nil
}

func (s *Server) handleTrackClear(w http.ResponseWriter, r *http.Request) *herr.Error {
	userID, e := resolveUser(r)
	if e != nil {
		return e
	}

	cleared, err := s.telemetry.Clear(r.Context(), userID)
	if err != nil {
		return herr.From(err, "clearing telemetry")
	}

	herr.JSON(w, http.StatusOK, map[string]any{"ok": true, "cleared": cleared})
	return nil
}
