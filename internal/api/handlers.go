package api

import (
	"database/sql"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/roach88/retrace/internal/object"
	"github.com/roach88/retrace/internal/query"
	"github.com/roach88/retrace/internal/replay"
)

func ok(c *gin.Context, code int, data any) {
	c.JSON(code, gin.H{"status": "ok", "data": data})
}

func fail(c *gin.Context, code int, msg string) {
	c.JSON(code, gin.H{"status": "error", "error": msg})
}

// failFrom maps a backend error to a status code: missing rows to 404,
// replayable-but-wrong requests to 422, everything else to 500.
func failFrom(c *gin.Context, err error) {
	switch {
	case errors.Is(err, sql.ErrNoRows), replay.IsCallNotFound(err):
		fail(c, http.StatusNotFound, err.Error())
	case replay.IsTargetUnresolvable(err),
		replay.IsSignatureMismatch(err),
		replay.IsMockTargetMissing(err),
		replay.IsReplayAborted(err):
		fail(c, http.StatusUnprocessableEntity, err.Error())
	default:
		fail(c, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	if err := s.store.DB().PingContext(c.Request.Context()); err != nil {
		fail(c, http.StatusServiceUnavailable, err.Error())
		return
	}
	ok(c, http.StatusOK, gin.H{"healthy": true})
}

func (s *Server) handleListSessions(c *gin.Context) {
	sessions, err := s.queries.ListSessions(c.Request.Context())
	if err != nil {
		failFrom(c, err)
		return
	}
	ok(c, http.StatusOK, sessions)
}

func (s *Server) handleGetSession(c *gin.Context) {
	session, err := s.queries.Session(c.Request.Context(), c.Param("id"))
	if err != nil {
		failFrom(c, err)
		return
	}
	ok(c, http.StatusOK, session)
}

func (s *Server) handleListCalls(c *gin.Context) {
	filter := query.Filter{
		Function:  c.Query("function"),
		File:      c.Query("file"),
		Search:    c.Query("search"),
		SessionID: c.Query("session"),
	}
	if limitStr := c.Query("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			fail(c, http.StatusBadRequest, "limit must be an integer")
			return
		}
		filter.Limit = limit
	}
	if err := filter.Validate(); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}

	calls, err := s.queries.ListCalls(c.Request.Context(), filter)
	if err != nil {
		failFrom(c, err)
		return
	}
	ok(c, http.StatusOK, calls)
}

func (s *Server) handleGetCall(c *gin.Context) {
	detail, err := s.queries.CallDetail(c.Request.Context(), c.Param("id"))
	if err != nil {
		failFrom(c, err)
		return
	}
	ok(c, http.StatusOK, detail)
}

func (s *Server) handleCallSnapshots(c *gin.Context) {
	chain, err := s.queries.SnapshotChain(c.Request.Context(), c.Param("id"))
	if err != nil {
		failFrom(c, err)
		return
	}
	ok(c, http.StatusOK, chain)
}

func (s *Server) handleObjectHistory(c *gin.Context) {
	key := object.Key(c.Param("key"))
	if err := key.Validate(); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	history, err := s.queries.ObjectHistory(c.Request.Context(), key)
	if err != nil {
		failFrom(c, err)
		return
	}
	ok(c, http.StatusOK, history)
}

// replayRequest is the body of both replay endpoints. Naming a plan
// loads its options first; explicit fields are then appended on top.
type replayRequest struct {
	Start         string   `json:"start"` // sequence only
	End           string   `json:"end"`   // sequence only
	Plan          string   `json:"plan"`
	IgnoreGlobals []string `json:"ignore_globals"`
	Mocks         []string `json:"mocks"`
	Record        bool     `json:"record"`
}

func (s *Server) replayOptions(req replayRequest) ([]replay.CallOption, error) {
	var opts []replay.CallOption
	if req.Plan != "" {
		if s.policy == nil {
			return nil, errors.New("no policy loaded, plan names unavailable")
		}
		plan, found := s.policy.Plan(req.Plan)
		if !found {
			return nil, errors.New("unknown plan: " + req.Plan)
		}
		opts = plan.CallOptions()
	}
	if len(req.IgnoreGlobals) > 0 {
		opts = append(opts, replay.WithIgnoreGlobals(req.IgnoreGlobals...))
	}
	if len(req.Mocks) > 0 {
		opts = append(opts, replay.WithMocks(req.Mocks...))
	}
	if req.Record {
		opts = append(opts, replay.WithRecord())
	}
	return opts, nil
}

func (s *Server) handleReplayCall(c *gin.Context) {
	if s.engine == nil {
		fail(c, http.StatusServiceUnavailable, "replay engine not configured")
		return
	}

	var req replayRequest
	if c.Request.ContentLength > 0 {
		if err := c.BindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, err.Error())
			return
		}
	}
	opts, err := s.replayOptions(req)
	if err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}

	outcome, err := s.engine.ExecuteCall(c.Request.Context(), c.Param("id"), opts...)
	if err != nil {
		failFrom(c, err)
		return
	}
	ok(c, http.StatusOK, outcome)
}

func (s *Server) handleReplaySequence(c *gin.Context) {
	if s.engine == nil {
		fail(c, http.StatusServiceUnavailable, "replay engine not configured")
		return
	}

	var req replayRequest
	if err := c.BindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	if req.Start == "" && req.Plan != "" && s.policy != nil {
		if plan, found := s.policy.Plan(req.Plan); found {
			req.Start, req.End = plan.Start, plan.End
		}
	}
	if req.Start == "" {
		fail(c, http.StatusBadRequest, "start call id required")
		return
	}
	opts, err := s.replayOptions(req)
	if err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}

	var rootID string
	if req.End != "" {
		rootID, err = s.engine.ReplaySubsequence(c.Request.Context(), req.Start, req.End, opts...)
	} else {
		rootID, err = s.engine.ReplaySequence(c.Request.Context(), req.Start, opts...)
	}
	if err != nil {
		failFrom(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"branch_root": rootID})
}

func (s *Server) handleDeleteCall(c *gin.Context) {
	id := c.Param("id")
	deleted, err := s.store.DeleteCall(c.Request.Context(), id)
	if err != nil {
		failFrom(c, err)
		return
	}
	if !deleted {
		fail(c, http.StatusNotFound, "call not found: "+id)
		return
	}
	ok(c, http.StatusOK, gin.H{"deleted": id})
}
