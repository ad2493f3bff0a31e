package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/snehendu098/rayfine/internal/agent"
	xerrors "github.com/snehendu098/rayfine/internal/errors"
	"github.com/snehendu098/rayfine/internal/network"
	"github.com/snehendu098/rayfine/internal/task"
)

const (
	defaultListLimit = 20
	maxListLimit     = 200
	defaultWait      = 30 * time.Second
	maxWait          = 5 * time.Minute
)

type submitRequest struct {
	ID string `json:"id,omitempty"`
	agent.ActionRequest
}

func (s *Server) tasksReady(w http.ResponseWriter) bool {
	if s.deps.Tasks == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "任务服务未初始化"))
		return false
	}
	return true
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req agent.ActionRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "请求体解析失败")
		return
	}
	if err := agent.Validate(req); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSubmitAction(w http.ResponseWriter, r *http.Request) {
	if !s.tasksReady(w) {
		return
	}
	var req submitRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "请求体解析失败")
		return
	}
	var netID network.ID
	if s.deps.Selector != nil {
		profile, err := s.deps.Selector.Current(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		netID = profile.ID
	}
	if req.Network == "" {
		req.Network = netID
	}
	t, err := s.deps.Tasks.Submit(r.Context(), task.Submission{ID: req.ID, Network: req.Network, Action: req.ActionRequest})
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Location", "/api/v1/actions/"+t.ID)
	writeJSON(w, http.StatusAccepted, t)
}

func (s *Server) handleListActions(w http.ResponseWriter, r *http.Request) {
	if !s.tasksReady(w) {
		return
	}
	opts, err := listOptionsFromQuery(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	tasks, err := s.deps.Tasks.List(r.Context(), opts...)
	if err != nil {
		writeError(w, err)
		return
	}
	stats, err := s.deps.Tasks.Stats(r.Context(), opts...)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks, "stats": stats})
}

func (s *Server) handleGetAction(w http.ResponseWriter, r *http.Request) {
	if !s.tasksReady(w) {
		return
	}
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		badRequest(w, "缺少任务 ID")
		return
	}
	t, err := s.deps.Tasks.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// handleWaitAction 等待任务进入终态。超时只结束本次等待，任务仍在后台执行，此时返回 202。
func (s *Server) handleWaitAction(w http.ResponseWriter, r *http.Request) {
	if !s.tasksReady(w) {
		return
	}
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		badRequest(w, "缺少任务 ID")
		return
	}
	timeout := defaultWait
	if raw := r.URL.Query().Get("timeout"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			badRequest(w, "timeout 格式错误")
			return
		}
		timeout = min(parsed, maxWait)
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()
	t, err := s.deps.Tasks.WaitUntilCompleted(ctx, id, s.waitInterval)
	if err != nil && t == nil {
		writeError(w, err)
		return
	}
	if !t.Done() {
		writeJSON(w, http.StatusAccepted, t)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func listOptionsFromQuery(r *http.Request) ([]task.ListOption, error) {
	q := r.URL.Query()
	limit := defaultListLimit
	if raw := q.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return nil, errors.New("limit 必须为正整数")
		}
		limit = min(parsed, maxListLimit)
	}
	opts := []task.ListOption{task.WithLimit(limit)}

	if raw := q.Get("offset"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			return nil, errors.New("offset 必须为非负整数")
		}
		opts = append(opts, task.WithOffset(parsed))
	}
	if raw := q.Get("status"); raw != "" {
		var statuses []task.Status
		for _, part := range strings.Split(raw, ",") {
			status := task.Status(strings.TrimSpace(part))
			if !task.IsValidStatus(status) {
				return nil, errors.New("未知的任务状态: " + part)
			}
			statuses = append(statuses, status)
		}
		opts = append(opts, task.WithStatuses(statuses...))
	}
	if raw := q.Get("kind"); raw != "" {
		var kinds []agent.Kind
		for _, part := range strings.Split(raw, ",") {
			kind := agent.Kind(strings.ToLower(strings.TrimSpace(part)))
			if !kind.Known() {
				return nil, errors.New("未知的操作类型: " + part)
			}
			kinds = append(kinds, kind)
		}
		opts = append(opts, task.WithKinds(kinds...))
	}
	if raw := q.Get("network"); raw != "" {
		id, err := network.ParseID(raw)
		if err != nil {
			return nil, errors.New("未知网络: " + raw)
		}
		opts = append(opts, task.WithNetwork(id))
	}
	if raw := q.Get("has_receipt"); raw != "" {
		has, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, errors.New("has_receipt 必须为布尔值")
		}
		opts = append(opts, task.WithReceiptPresence(has))
	}
	if raw := q.Get("since"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, errors.New("since 必须为 RFC3339 时间")
		}
		opts = append(opts, task.WithUpdatedSince(ts))
	}
	if q.Get("order") == "asc" {
		opts = append(opts, task.WithSortOrder(task.SortByUpdatedAsc))
	}
	if raw := strings.TrimSpace(q.Get("q")); raw != "" {
		opts = append(opts, task.WithQuery(raw))
	}
	return opts, nil
}
