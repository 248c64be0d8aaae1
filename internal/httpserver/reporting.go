package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/crypto/bcrypt"

	"mood-bot/internal/repo"
)

// apiUser is the external user representation. The credential hash is
// never serialized.
type apiUser struct {
	UserID    int64     `json:"user_id"`
	ChatID    int64     `json:"chat_id"`
	Username  *string   `json:"username"`
	Balance   int64     `json:"balance"`
	CreatedAt time.Time `json:"created_at"`
}

type apiEntry struct {
	Timestamp   time.Time `json:"timestamp"`
	MoodScore   int       `json:"mood_score"`
	TriggerText string    `json:"trigger_text"`
	ThoughtText string    `json:"thought_text"`
}

type apiStats struct {
	TotalEntries   int        `json:"total_entries"`
	AverageMood    float64    `json:"average_mood"`
	MoodRange      string     `json:"mood_range"`
	FirstEntryDate *time.Time `json:"first_entry_date"`
	LastEntryDate  *time.Time `json:"last_entry_date"`
}

func toAPIUser(u repo.User) apiUser {
	return apiUser{
		UserID:    u.TGID,
		ChatID:    u.ChatID,
		Username:  u.Username,
		Balance:   u.Balance,
		CreatedAt: u.CreatedAt,
	}
}

func userIDFromPath(r *http.Request) (int64, error) {
	raw := r.PathValue("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse user id %q: %w", raw, err)
	}
	return id, nil
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.deps.Repository.ListUsers(r.Context())
	if err != nil {
		s.metrics.Errors.WithLabelValues("http_reporting").Inc()
		s.logger.Error("list users failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list users")
		return
	}

	out := make([]apiUser, 0, len(users))
	for _, u := range users {
		out = append(out, toAPIUser(u))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id, err := userIDFromPath(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	user, err := s.deps.Repository.GetUser(r.Context(), id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		s.metrics.Errors.WithLabelValues("http_reporting").Inc()
		s.logger.Error("get user failed", "error", err, "user", id)
		writeError(w, http.StatusInternalServerError, "failed to load user")
		return
	}
	writeJSON(w, http.StatusOK, toAPIUser(*user))
}

func (s *Server) handleListEntries(w http.ResponseWriter, r *http.Request) {
	id, err := userIDFromPath(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	if _, err := s.deps.Repository.GetUser(r.Context(), id); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		s.metrics.Errors.WithLabelValues("http_reporting").Inc()
		writeError(w, http.StatusInternalServerError, "failed to load user")
		return
	}

	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		since, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid since parameter, expected RFC3339")
			return
		}
	}

	entries, err := s.deps.Repository.ListEntries(r.Context(), id, since)
	if err != nil {
		s.metrics.Errors.WithLabelValues("http_reporting").Inc()
		s.logger.Error("list entries failed", "error", err, "user", id)
		writeError(w, http.StatusInternalServerError, "failed to list entries")
		return
	}

	out := make([]apiEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, apiEntry{
			Timestamp:   e.CreatedAt,
			MoodScore:   e.MoodScore,
			TriggerText: e.TriggerText,
			ThoughtText: e.ThoughtText,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	id, err := userIDFromPath(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	if _, err := s.deps.Repository.GetUser(r.Context(), id); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		s.metrics.Errors.WithLabelValues("http_reporting").Inc()
		writeError(w, http.StatusInternalServerError, "failed to load user")
		return
	}

	cacheKey := fmt.Sprintf("stats:%d", id)
	if s.deps.Redis != nil {
		var cached apiStats
		if hit, err := s.deps.Redis.GetJSON(r.Context(), cacheKey, &cached); err != nil {
			s.logger.Warn("stats cache read failed", "error", err, "user", id)
		} else if hit {
			writeJSON(w, http.StatusOK, cached)
			return
		}
	}

	stats, err := s.deps.Repository.EntryStats(r.Context(), id)
	if err != nil {
		s.metrics.Errors.WithLabelValues("http_reporting").Inc()
		s.logger.Error("entry stats failed", "error", err, "user", id)
		writeError(w, http.StatusInternalServerError, "failed to compute stats")
		return
	}

	out := apiStats{
		TotalEntries:   stats.TotalEntries,
		AverageMood:    stats.AverageMood,
		MoodRange:      "N/A",
		FirstEntryDate: stats.FirstEntryAt,
		LastEntryDate:  stats.LastEntryAt,
	}
	if stats.TotalEntries > 0 {
		out.MoodRange = fmt.Sprintf("%d - %d", stats.MinMood, stats.MaxMood)
	}

	if s.deps.Redis != nil && s.statsTTL > 0 {
		if err := s.deps.Redis.SetJSON(r.Context(), cacheKey, out, s.statsTTL); err != nil {
			s.logger.Warn("stats cache write failed", "error", err, "user", id)
		}
	}

	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCredentialCheck(w http.ResponseWriter, r *http.Request) {
	id, err := userIDFromPath(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	var req struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := s.deps.Repository.GetUser(r.Context(), id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		s.metrics.Errors.WithLabelValues("http_reporting").Inc()
		writeError(w, http.StatusInternalServerError, "failed to load user")
		return
	}

	valid := false
	if user.PasswordHash != nil {
		valid = bcrypt.CompareHashAndPassword([]byte(*user.PasswordHash), []byte(req.Password)) == nil
	}
	writeJSON(w, http.StatusOK, map[string]bool{"valid": valid})
}
