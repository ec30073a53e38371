// Package api 暴露 REST 接口，供外部提交分析任务并查询结论。
package api

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	xerrors "ChainGuard/internal/errors"
	"ChainGuard/internal/job"
	"ChainGuard/internal/observability/metrics"
)

// Server 承载任务服务的 HTTP 入口。
type Server struct {
	addr    string
	service *job.Service
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, service *job.Service) *Server {
	return &Server{addr: addr, service: service}
}

// Handler 组装全部路由，测试可以直接挂到 httptest 上。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/api/v1/analyses", instrument("analyses", http.HandlerFunc(s.handleAnalyses)))
	mux.Handle("/api/v1/analyses/", instrument("analysis_detail", http.HandlerFunc(s.handleAnalysisDetail)))
	mux.Handle("/api/v1/stats", instrument("stats", http.HandlerFunc(s.handleStats)))
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := server.ListenAndServe(); err != nil && !stdErrors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}

func (s *Server) handleAnalyses(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleSubmit(w, r)
	case http.MethodGet:
		s.handleList(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, xerrors.CodeInvalidArgument, "仅支持 GET/POST")
	}
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if s.service == nil {
		writeError(w, http.StatusServiceUnavailable, xerrors.CodeInitializationFailure, "任务服务未初始化")
		return
	}

	var req job.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, xerrors.CodeInvalidArgument, "请求体解析失败")
		return
	}

	created, err := s.service.Submit(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, created)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	if s.service == nil {
		writeError(w, http.StatusServiceUnavailable, xerrors.CodeInitializationFailure, "任务服务未初始化")
		return
	}

	opts, err := listOptionsFromQuery(r)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	jobs, err := s.service.List(r.Context(), opts...)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs, "count": len(jobs)})
}

func (s *Server) handleAnalysisDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, xerrors.CodeInvalidArgument, "仅支持 GET")
		return
	}
	if s.service == nil {
		writeError(w, http.StatusServiceUnavailable, xerrors.CodeInitializationFailure, "任务服务未初始化")
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/v1/analyses/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusBadRequest, xerrors.CodeInvalidArgument, "任务 ID 不合法")
		return
	}
	found, err := s.service.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, found)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, xerrors.CodeInvalidArgument, "仅支持 GET")
		return
	}
	if s.service == nil {
		writeError(w, http.StatusServiceUnavailable, xerrors.CodeInitializationFailure, "任务服务未初始化")
		return
	}

	opts, err := listOptionsFromQuery(r)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	stats, err := s.service.Stats(r.Context(), opts...)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// listOptionsFromQuery 把查询参数翻译成存储层的过滤选项。
func listOptionsFromQuery(r *http.Request) ([]job.ListOption, error) {
	query := r.URL.Query()
	var opts []job.ListOption

	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "limit 参数不合法: "+raw)
		}
		opts = append(opts, job.WithLimit(limit))
	}
	if raw := query.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "offset 参数不合法: "+raw)
		}
		opts = append(opts, job.WithOffset(offset))
	}
	if raw := query.Get("status"); raw != "" {
		var statuses []job.Status
		for _, part := range strings.Split(raw, ",") {
			status := job.Status(strings.TrimSpace(part))
			if !job.IsValidStatus(status) {
				return nil, xerrors.New(xerrors.CodeInvalidArgument, "status 参数不合法: "+part)
			}
			statuses = append(statuses, status)
		}
		opts = append(opts, job.WithStatuses(statuses...))
	}
	if raw := query.Get("tier"); raw != "" {
		tiers := strings.Split(raw, ",")
		for i := range tiers {
			tiers[i] = strings.ToUpper(strings.TrimSpace(tiers[i]))
		}
		opts = append(opts, job.WithRiskTiers(tiers...))
	}
	if raw := query.Get("address"); raw != "" {
		opts = append(opts, job.WithAddress(raw))
	}
	if raw := query.Get("updated_since"); raw != "" {
		ts, err := parseTimestamp(raw)
		if err != nil {
			return nil, err
		}
		opts = append(opts, job.WithUpdatedSince(ts))
	}
	if raw := query.Get("updated_until"); raw != "" {
		ts, err := parseTimestamp(raw)
		if err != nil {
			return nil, err
		}
		opts = append(opts, job.WithUpdatedUntil(ts))
	}
	if raw := query.Get("has_report"); raw != "" {
		hasReport, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "has_report 参数不合法: "+raw)
		}
		opts = append(opts, job.WithReportPresence(hasReport))
	}
	if raw := query.Get("order"); raw != "" {
		switch strings.ToLower(raw) {
		case "asc":
			opts = append(opts, job.WithSortOrder(job.SortByUpdatedAsc))
		case "desc":
			opts = append(opts, job.WithSortOrder(job.SortByUpdatedDesc))
		default:
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "order 参数只支持 asc/desc")
		}
	}
	return opts, nil
}

func parseTimestamp(raw string) (time.Time, error) {
	if seconds, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(seconds, 0), nil
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, xerrors.New(xerrors.CodeInvalidArgument, "时间参数不合法: "+raw)
	}
	return ts, nil
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code xerrors.Code, message string) {
	writeJSON(w, status, errorBody{Code: string(code), Message: message})
}

// writeServiceError 把统一错误码映射成 HTTP 状态。
func writeServiceError(w http.ResponseWriter, err error) {
	code := xerrors.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case job.CodeJobNotFound, xerrors.CodeNotFound:
		status = http.StatusNotFound
	case job.CodeJobValidation, xerrors.CodeInvalidArgument, xerrors.CodeInvalidAddress:
		status = http.StatusBadRequest
	case job.CodeJobConflict, xerrors.CodeConflict:
		status = http.StatusConflict
	case xerrors.CodeRateLimited:
		status = http.StatusTooManyRequests
	case xerrors.CodeInitializationFailure:
		status = http.StatusServiceUnavailable
	}
	writeError(w, status, code, err.Error())
}

// instrument 记录每次请求的状态码与耗时。
func instrument(name string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		metrics.ObserveHTTPRequest(name, r.Method, recorder.status, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
