package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/johanake/voxera/internal/database"
	"github.com/johanake/voxera/internal/database/models"
)

// historyResponse is the JSON response for a single call record.
type historyResponse struct {
	ID           int64   `json:"id"`
	CallID       string  `json:"call_id"`
	Direction    string  `json:"direction"`
	CallerName   string  `json:"caller_name"`
	CallerNumber string  `json:"caller_number"`
	CalleeNumber string  `json:"callee_number"`
	StartTime    string  `json:"start_time"`
	AnswerTime   *string `json:"answer_time"`
	EndTime      *string `json:"end_time"`
	DurationSecs int     `json:"duration_secs"`
	TalkSecs     int     `json:"talk_secs"`
	Disposition  string  `json:"disposition"`
	HangupCause  string  `json:"hangup_cause"`
	RecordingURL string  `json:"recording_url,omitempty"`
}

// toHistoryResponse converts a models.CallRecord to the API response.
func toHistoryResponse(c *models.CallRecord) historyResponse {
	resp := historyResponse{
		ID:           c.ID,
		CallID:       c.CallID,
		Direction:    c.Direction,
		CallerName:   c.CallerName,
		CallerNumber: c.CallerNumber,
		CalleeNumber: c.CalleeNumber,
		StartTime:    c.StartTime.Format(time.RFC3339),
		DurationSecs: c.DurationSecs,
		TalkSecs:     c.TalkSecs,
		Disposition:  c.Disposition,
		HangupCause:  c.HangupCause,
		RecordingURL: c.RecordingURL,
	}
	if c.AnswerTime != nil {
		t := c.AnswerTime.Format(time.RFC3339)
		resp.AnswerTime = &t
	}
	if c.EndTime != nil {
		t := c.EndTime.Format(time.RFC3339)
		resp.EndTime = &t
	}
	return resp
}

// handleListHistory returns call records filtered by the query
// parameters direction, search, start_date and end_date.
func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	pg, errMsg := parsePagination(r)
	if errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	q := r.URL.Query()
	direction := q.Get("direction")
	if direction != "" && direction != "peer" && direction != "pstn" {
		writeError(w, http.StatusBadRequest, `direction must be "peer" or "pstn"`)
		return
	}

	startDate, errMsg := parseDateBound(q.Get("start_date"), false)
	if errMsg != "" {
		writeError(w, http.StatusBadRequest, "start_date "+errMsg)
		return
	}
	endDate, errMsg := parseDateBound(q.Get("end_date"), true)
	if errMsg != "" {
		writeError(w, http.StatusBadRequest, "end_date "+errMsg)
		return
	}

	filter := database.CallHistoryListFilter{
		Direction: direction,
		Search:    q.Get("search"),
		StartDate: startDate,
		EndDate:   endDate,
		Limit:     pg.Limit,
		Offset:    pg.Offset,
	}

	recs, total, err := s.history.List(r.Context(), filter)
	if err != nil {
		slog.Error("list history: failed to query", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	items := make([]historyResponse, len(recs))
	for i := range recs {
		items[i] = toHistoryResponse(&recs[i])
	}

	writeJSON(w, http.StatusOK, PaginatedResponse{
		Items:  items,
		Total:  total,
		Limit:  pg.Limit,
		Offset: pg.Offset,
	})
}

// parseDateBound validates a YYYY-MM-DD query value and converts it to
// a filter bound. End bounds are shifted to the following day so the
// named date is included under the repository's exclusive comparison.
func parseDateBound(raw string, end bool) (string, string) {
	if raw == "" {
		return "", ""
	}
	d, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return "", "must be a date in YYYY-MM-DD format"
	}
	if end {
		d = d.AddDate(0, 0, 1)
	}
	return d.Format("2006-01-02"), ""
}

// handleGetHistory returns a single call record by ID.
func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid record id")
		return
	}

	rec, err := s.history.GetByID(r.Context(), id)
	if err != nil {
		slog.Error("get history: failed to query", "error", err, "record_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "record not found")
		return
	}
	writeJSON(w, http.StatusOK, toHistoryResponse(rec))
}
