// Package server exposes the aggregate over HTTP: JSON snapshots, commands,
// a websocket change stream, OPML interchange and metrics.
package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rssreader/internal/feed"
	"rssreader/internal/opml"
	"rssreader/internal/poller"
	"rssreader/internal/store"
	"rssreader/internal/subscribe"
	"rssreader/internal/view"
)

const (
	maxCommandBodyBytes int64 = 64 << 10
	opmlExportTitle           = "rssreader subscriptions"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type requestIDKey struct{}

// Submitter starts feed subscriptions.
type Submitter interface {
	Submit(raw string) error
}

// Poller reports and drives feed polling.
type Poller interface {
	Status() []poller.FeedStatus
	RunRound(ctx context.Context) poller.RoundResult
}

// Deps are the collaborators of an App. Poller and Gatherer are optional.
type Deps struct {
	Store         *store.Store
	Subscriptions Submitter
	Poller        Poller
	Gatherer      prometheus.Gatherer
	Logger        *slog.Logger
}

// App wires handlers to the store and the change stream.
type App struct {
	store       *store.Store
	subs        Submitter
	poller      Poller
	gatherer    prometheus.Gatherer
	broadcaster *Broadcaster
	upgrader    websocket.Upgrader
	unsubscribe func()
	log         *slog.Logger
	now         func() time.Time
}

// New constructs an App and starts forwarding store changes to websocket
// clients. Call Close to stop.
func New(deps Deps) *App {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	a := &App{
		store:       deps.Store,
		subs:        deps.Subscriptions,
		poller:      deps.Poller,
		gatherer:    gatherer,
		broadcaster: NewBroadcaster(defaultClientBuffer, logger),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  wsBufferSize,
			WriteBufferSize: wsBufferSize,
		},
		log: logger.With("component", "server"),
		now: time.Now,
	}
	a.unsubscribe = a.store.Subscribe(func(c store.Change) {
		a.broadcaster.Broadcast(view.BuildChange(c, a.store.Snapshot()))
	})
	return a
}

// Close stops forwarding changes and disconnects stream clients.
func (a *App) Close() {
	a.unsubscribe()
	a.broadcaster.Shutdown()
}

// Routes returns the fully configured application HTTP handler.
func (a *App) Routes() http.Handler {
	mux := http.NewServeMux()
	a.registerCoreRoutes(mux)
	a.registerAPIRoutes(mux)
	return a.wrapRoutes(mux)
}

func (a *App) registerCoreRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", a.handleHealthz)
	mux.HandleFunc("GET /opml", a.handleExportOPML)
	mux.HandleFunc("POST /opml", a.handleImportOPML)
	mux.Handle("GET /metrics", promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{}))
}

func (a *App) registerAPIRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/state", a.handleState)
	mux.HandleFunc("GET /api/events", a.handleEvents)
	mux.HandleFunc("POST /api/feeds", a.handleSubscribe)
	mux.HandleFunc("POST /api/feeds/{feedID}/read", a.handleMarkFeedRead)
	mux.HandleFunc("POST /api/posts/{postID}/open", a.handleOpenPost)
	mux.HandleFunc("POST /api/posts/{postID}/read", a.handleMarkRead)
	mux.HandleFunc("POST /api/poll", a.handlePoll)
}

func (a *App) wrapRoutes(handler http.Handler) http.Handler {
	handler = a.withSecurityHeaders(handler)
	handler = a.withRequestID(handler)
	return handler
}

func (*App) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (*App) withSecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Cross-Origin-Resource-Policy", "same-origin")
		next.ServeHTTP(w, r)
	})
}

func requestID(r *http.Request) string {
	id, _ := r.Context().Value(requestIDKey{}).(string)
	return id
}

func (*App) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	_, err := w.Write([]byte("ok"))
	if err != nil {
		slog.Warn("write healthz response failed")
	}
}

func (a *App) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.buildState())
}

func (a *App) buildState() view.State {
	var statuses []poller.FeedStatus
	if a.poller != nil {
		statuses = a.poller.Status()
	}
	return view.BuildState(a.store.Snapshot(), statuses, a.now())
}

type subscribeRequest struct {
	URL string `json:"url"`
}

type errorResponse struct {
	Error   feed.ErrorKind `json:"error"`
	Message string         `json:"message"`
}

func (a *App) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	rawURL, err := readSubscribeURL(w, r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: feed.KindURLInvalid, Message: err.Error()})
		return
	}

	err = a.subs.Submit(rawURL)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, view.BuildFormView(a.store.Form()))
	case subscribe.IsValidation(err):
		kind := feed.KindOf(err)
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: kind, Message: kind.Message()})
	default:
		a.log.Error("subscribe failed", "request_id", requestID(r), "err", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: feed.KindUnknown, Message: feed.KindUnknown.Message()})
	}
}

func readSubscribeURL(w http.ResponseWriter, r *http.Request) (string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxCommandBodyBytes)

	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var req subscribeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return "", errors.New("request body must be a JSON object with a url")
		}
		return req.URL, nil
	}

	if err := r.ParseForm(); err != nil {
		return "", errors.New("invalid form body")
	}
	return r.PostFormValue("url"), nil
}

func (a *App) handleOpenPost(w http.ResponseWriter, r *http.Request) {
	a.postCommand(w, a.store.OpenPost(feed.PostID(r.PathValue("postID"))))
}

func (a *App) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	a.postCommand(w, a.store.MarkRead(feed.PostID(r.PathValue("postID"))))
}

func (a *App) handleMarkFeedRead(w http.ResponseWriter, r *http.Request) {
	a.postCommand(w, a.store.MarkFeedRead(feed.FeedID(r.PathValue("feedID"))))
}

func (a *App) postCommand(w http.ResponseWriter, err error) {
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, store.ErrPostNotFound), errors.Is(err, store.ErrFeedNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		a.log.Error("command failed", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

type pollResponse struct {
	Polled  int `json:"polled"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
	Merged  int `json:"merged"`
}

func (a *App) handlePoll(w http.ResponseWriter, r *http.Request) {
	if a.poller == nil {
		http.Error(w, "polling disabled", http.StatusServiceUnavailable)
		return
	}
	result := a.poller.RunRound(r.Context())
	writeJSON(w, http.StatusOK, pollResponse(result))
}

func (a *App) handleExportOPML(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/x-opml; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="subscriptions.opml"`)

	if err := opml.Write(w, opmlExportTitle, opml.FromFeeds(a.store.Feeds())); err != nil {
		a.log.Error("export OPML failed", "request_id", requestID(r), "err", err)
	}
}

type importResponse struct {
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
}

func (a *App) handleImportOPML(w http.ResponseWriter, r *http.Request) {
	body, err := opmlUpload(w, r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer body.Close()

	subs, err := opml.Parse(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var resp importResponse
	for _, sub := range subs {
		if submitErr := a.subs.Submit(sub.URL); submitErr != nil {
			resp.Skipped++
			a.log.Info("skipped OPML subscription", "feed_url", sub.URL, "err", submitErr)
			continue
		}
		resp.Imported++
	}

	a.log.Info("imported OPML", "imported", resp.Imported, "skipped", resp.Skipped)
	writeJSON(w, http.StatusOK, resp)
}

// opmlUpload accepts either a multipart form with a "file" part or a raw
// OPML request body.
func opmlUpload(w http.ResponseWriter, r *http.Request) (io.ReadCloser, error) {
	r.Body = http.MaxBytesReader(w, r.Body, opml.MaxDocumentBytes)

	if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		return r.Body, nil
	}
	if err := r.ParseMultipartForm(opml.MaxDocumentBytes); err != nil {
		return nil, errors.New("invalid OPML upload")
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		return nil, errors.New("missing OPML file")
	}
	return file, nil
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	data, err := json.Marshal(value)
	if err != nil {
		http.Error(w, "failed to write json", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(data, '\n'))
}
