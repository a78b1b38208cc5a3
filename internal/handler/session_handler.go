package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-client/internal/middleware"
	"github.com/stemsi/exstem-client/internal/model"
	"github.com/stemsi/exstem-client/internal/progress"
	"github.com/stemsi/exstem-client/internal/repository"
	"github.com/stemsi/exstem-client/internal/response"
	"github.com/stemsi/exstem-client/internal/service"
	"github.com/stemsi/exstem-client/internal/session"
	"github.com/stemsi/exstem-client/internal/validator"
)

const (
	defaultResultLimit = 20
	maxResultLimit     = 100
)

// sessionPayload is the view a question screen binds to.
type sessionPayload struct {
	Handle    string                 `json:"handle"`
	SessionID string                 `json:"session_id,omitempty"`
	View      progress.View          `json:"view"`
	Question  *progress.QuestionView `json:"question,omitempty"`
}

// resultPayload is the graded outcome of a session.
type resultPayload struct {
	Handle    string           `json:"handle"`
	SessionID string           `json:"session_id"`
	Forced    bool             `json:"forced"`
	Result    model.ExamResult `json:"result"`
	NewBadges []string         `json:"new_badges"`
}

func newSessionPayload(handle string, snap session.Snapshot) sessionPayload {
	p := sessionPayload{
		Handle:   handle,
		View:     progress.FromSnapshot(snap),
		Question: progress.CurrentQuestion(snap),
	}
	if snap.Exam != nil {
		p.SessionID = snap.Exam.SessionID
	}
	return p
}

func newResultPayload(handle string, snap session.Snapshot, res *model.SubmitResult) resultPayload {
	p := resultPayload{
		Handle:    handle,
		Forced:    snap.Forced,
		Result:    res.Result,
		NewBadges: res.NewBadges,
	}
	if snap.Exam != nil {
		p.SessionID = snap.Exam.SessionID
	}
	if p.NewBadges == nil {
		p.NewBadges = []string{}
	}
	return p
}

// SessionHandler drives exam sessions on behalf of a browser UI.
type SessionHandler struct {
	sessions *service.ExamSessionService
	log      zerolog.Logger
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(sessions *service.ExamSessionService, log zerolog.Logger) *SessionHandler {
	return &SessionHandler{
		sessions: sessions,
		log:      log.With().Str("component", "session_handler").Logger(),
	}
}

// StartSession godoc
// POST /api/v1/sessions
// Starts a timed exam and waits for the first question.
func (h *SessionHandler) StartSession(c *gin.Context) {
	sc := middleware.GetSessionContext(c)
	if sc == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req model.StartSessionRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	entry, err := h.sessions.Start(c.Request.Context(), sc, req)
	if err != nil {
		h.failIdentity(c, err)
		return
	}
	snap := awaitLoaded(c.Request.Context(), entry.Session)

	switch snap.State {
	case model.SessionStateFailed:
		h.sessions.TakeOutcome(entry)
		response.FailError(c, snap.Err)
	case model.SessionStateLoading:
		response.Success(c, http.StatusAccepted, newSessionPayload(entry.Handle, snap))
	default:
		response.Success(c, http.StatusCreated, newSessionPayload(entry.Handle, snap))
	}
}

// GetSession godoc
// GET /api/v1/sessions/:id
// Returns the current view and question.
func (h *SessionHandler) GetSession(c *gin.Context) {
	entry := middleware.GetEntry(c)
	response.Success(c, http.StatusOK, newSessionPayload(entry.Handle, entry.Session.Snapshot()))
}

// Next godoc
// POST /api/v1/sessions/:id/next
func (h *SessionHandler) Next(c *gin.Context) {
	h.navigate(c, (*session.Session).GoNext)
}

// Previous godoc
// POST /api/v1/sessions/:id/previous
func (h *SessionHandler) Previous(c *gin.Context) {
	h.navigate(c, (*session.Session).GoPrevious)
}

func (h *SessionHandler) navigate(c *gin.Context, move func(*session.Session) error) {
	entry := middleware.GetEntry(c)
	if err := move(entry.Session); err != nil {
		response.FailError(c, err)
		return
	}
	response.Success(c, http.StatusOK, newSessionPayload(entry.Handle, entry.Session.Snapshot()))
}

// SelectAnswer godoc
// POST /api/v1/sessions/:id/answers
// Records the selected option of a question.
func (h *SessionHandler) SelectAnswer(c *gin.Context) {
	entry := middleware.GetEntry(c)

	var req model.SelectAnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if err := entry.Session.SelectAnswer(req.QuestionID, *req.Option); err != nil {
		if errors.Is(err, session.ErrUnknownQuestion) {
			response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation,
				map[string]string{"question_id": "question_id is not part of this exam"})
			return
		}
		if errors.Is(err, session.ErrOptionOutOfRange) {
			response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation,
				map[string]string{"option": "option is out of range"})
			return
		}
		response.FailError(c, err)
		return
	}

	response.Success(c, http.StatusOK, newSessionPayload(entry.Handle, entry.Session.Snapshot()))
}

// Submit godoc
// POST /api/v1/sessions/:id/submit
// Submits from the last question and waits for the result.
func (h *SessionHandler) Submit(c *gin.Context) {
	entry := middleware.GetEntry(c)

	snap := entry.Session.Snapshot()
	if snap.State == model.SessionStateActive && !progress.FromSnapshot(snap).CanSubmit {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation,
			map[string]string{"index": "submit is only available on the last question"})
		return
	}

	if err := entry.Session.RequestSubmit(); err != nil {
		response.FailError(c, err)
		return
	}

	select {
	case <-entry.Session.Done():
	case <-c.Request.Context().Done():
	}
	h.writeOutcome(c, entry)
}

// GetResult godoc
// GET /api/v1/sessions/:id/result
// Returns the result once, then discards the session.
func (h *SessionHandler) GetResult(c *gin.Context) {
	h.writeOutcome(c, middleware.GetEntry(c))
}

func (h *SessionHandler) writeOutcome(c *gin.Context, entry *service.Entry) {
	res, done, err := h.sessions.TakeOutcome(entry)
	snap := entry.Session.Snapshot()

	if !done {
		response.Success(c, http.StatusAccepted, newSessionPayload(entry.Handle, snap))
		return
	}
	if err != nil {
		response.FailError(c, err)
		return
	}
	response.Success(c, http.StatusOK, newResultPayload(entry.Handle, snap, res))
}

// History godoc
// GET /api/v1/history
// Lists the caller's completed sessions as recorded by the exam service.
func (h *SessionHandler) History(c *gin.Context) {
	sc := middleware.GetSessionContext(c)
	if sc == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	entries, err := h.sessions.History(c.Request.Context(), sc)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to fetch exam history")
		response.FailError(c, err)
		return
	}
	if entries == nil {
		entries = []model.HistoryEntry{}
	}

	response.Success(c, http.StatusOK, gin.H{"sessions": entries})
}

// ArchivedResults godoc
// GET /api/v1/results?limit=20
// Lists the caller's results from the local archive.
func (h *SessionHandler) ArchivedResults(c *gin.Context) {
	sc := middleware.GetSessionContext(c)
	if sc == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	limit := defaultResultLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation,
				map[string]string{"limit": "limit must be a positive number"})
			return
		}
		limit = min(n, maxResultLimit)
	}

	results, err := h.sessions.ArchivedResults(c.Request.Context(), sc, limit)
	if errors.Is(err, service.ErrArchiveDisabled) {
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		return
	}
	if isIdentityError(err) {
		h.failIdentity(c, err)
		return
	}
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list archived results")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	if results == nil {
		results = []model.ArchivedResult{}
	}

	response.Success(c, http.StatusOK, gin.H{"results": results})
}

// ArchivedResult godoc
// GET /api/v1/results/:session_id
func (h *SessionHandler) ArchivedResult(c *gin.Context) {
	sc := middleware.GetSessionContext(c)
	if sc == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	res, err := h.sessions.ArchivedResult(c.Request.Context(), sc, c.Param("session_id"))
	if err != nil {
		if isIdentityError(err) {
			h.failIdentity(c, err)
			return
		}
		if errors.Is(err, service.ErrArchiveDisabled) || errors.Is(err, service.ErrSessionNotFound) ||
			errors.Is(err, repository.ErrResultNotFound) {
			response.Fail(c, http.StatusNotFound, response.ErrNotFound)
			return
		}
		h.log.Error().Err(err).Msg("Failed to load archived result")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, res)
}

// isIdentityError reports whether err came from asking the exam service who
// the caller is.
func isIdentityError(err error) bool {
	return errors.Is(err, service.ErrUnknownCaller) ||
		errors.Is(err, response.ErrSessionInvalid) ||
		errors.Is(err, response.ErrServiceUnavailable)
}

// failIdentity answers a caller the exam service did not vouch for.
func (h *SessionHandler) failIdentity(c *gin.Context, err error) {
	if errors.Is(err, response.ErrServiceUnavailable) {
		h.log.Warn().Err(err).Msg("Failed to identify caller")
		response.FailError(c, err)
		return
	}
	response.Fail(c, http.StatusUnauthorized, response.ErrTokenInvalid)
}

// awaitLoaded blocks until the session left Loading or ctx is done.
func awaitLoaded(ctx context.Context, s *session.Session) session.Snapshot {
	updates, stop := s.Updates()
	defer stop()

	for {
		select {
		case snap, ok := <-updates:
			if !ok {
				return s.Snapshot()
			}
			if snap.State != model.SessionStateLoading {
				return snap
			}
		case <-ctx.Done():
			return s.Snapshot()
		}
	}
}
