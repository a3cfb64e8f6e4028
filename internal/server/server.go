package server

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"strconv"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/render"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/yuin/goldmark"

	"github.com/TobiSchelling/PartnerCenter/internal/database"
	"github.com/TobiSchelling/PartnerCenter/internal/logging"
	"github.com/TobiSchelling/PartnerCenter/internal/pipeline"
	"github.com/TobiSchelling/PartnerCenter/internal/scheduler"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

var md = goldmark.New()

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// Store is the read side the server needs.
type Store interface {
	GetUser(ctx context.Context, id int64) (*database.User, error)
	ListUsers(ctx context.Context) ([]database.User, error)
	ListOpportunities(ctx context.Context, userID int64, limit int) ([]database.Opportunity, error)
	ListDeliveries(ctx context.Context, userID int64, limit int) ([]database.Delivery, error)
	GetStats(ctx context.Context) (*database.Stats, error)
}

// LastResults exposes the most recent finished sync per user.
type LastResults interface {
	LastResult(userID int64) *pipeline.Result
}

// Server serves the in-app opportunities feed and its JSON API.
type Server struct {
	store   Store
	pub     message.Publisher
	results LastResults
	pages   map[string]*template.Template
	router  *gin.Engine
}

// New creates a new Server. pub and results may be nil; sync requests are
// then refused and no last run is shown.
func New(store Store, pub message.Publisher, results LastResults) (*Server, error) {
	funcMap := template.FuncMap{
		"markdown": renderMarkdown,
		"deref": func(s *string) string {
			if s == nil {
				return ""
			}
			return *s
		},
	}

	base, err := template.New("base.html").Funcs(funcMap).ParseFS(templateFS, "templates/base.html")
	if err != nil {
		return nil, errors.Wrap(err, "parsing base template")
	}

	// Each page gets its own clone of base so its "content" and "title"
	// blocks do not collide with the other pages.
	pageNames := []string{"index.html", "user.html"}
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		clone, err := base.Clone()
		if err != nil {
			return nil, errors.Wrapf(err, "cloning base for %s", name)
		}
		if _, err := clone.ParseFS(templateFS, "templates/"+name); err != nil {
			return nil, errors.Wrapf(err, "parsing template %s", name)
		}
		pages[name] = clone
	}

	s := &Server{store: store, pub: pub, results: results, pages: pages}
	s.router = s.routes()
	return s, nil
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	staticSub, _ := fs.Sub(staticFS, "static")
	r.StaticFS("/static", http.FS(staticSub))

	r.GET("/", s.handleIndex)
	r.GET("/users/:id", s.handleUser)
	r.POST("/users/:id/sync", s.handleUserSync)

	api := r.Group("/api")
	api.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	api.GET("/stats", s.handleStats)
	api.GET("/users/:id/opportunities", s.handleOpportunities)
	api.GET("/users/:id/deliveries", s.handleDeliveries)
	api.POST("/users/:id/sync", s.handleRequestSync)
	api.GET("/users/:id/sync", s.handleLastSync)
	return r
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logging.Log.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.FullPath(),
			"status":  c.Writer.Status(),
			"elapsed": time.Since(start).String(),
		}).Debug("http request")
	}
}

func (s *Server) handleIndex(c *gin.Context) {
	users, err := s.store.ListUsers(c.Request.Context())
	if err != nil {
		logging.Log.WithError(err).Error("listing users")
		c.String(http.StatusInternalServerError, "Internal server error")
		return
	}
	stats, err := s.store.GetStats(c.Request.Context())
	if err != nil {
		logging.Log.WithError(err).Warn("loading stats")
	}

	s.render(c, http.StatusOK, "index.html", gin.H{
		"Users": users,
		"Stats": stats,
	})
}

func (s *Server) handleUser(c *gin.Context) {
	user, ok := s.loadUser(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	opps, err := s.store.ListOpportunities(ctx, user.ID, defaultListLimit)
	if err != nil {
		logging.Log.WithError(err).Error("listing opportunities")
		c.String(http.StatusInternalServerError, "Internal server error")
		return
	}
	deliveries, err := s.store.ListDeliveries(ctx, user.ID, defaultListLimit)
	if err != nil {
		logging.Log.WithError(err).Error("listing deliveries")
		c.String(http.StatusInternalServerError, "Internal server error")
		return
	}

	s.render(c, http.StatusOK, "user.html", gin.H{
		"User":          user,
		"Opportunities": opps,
		"Deliveries":    deliveries,
		"LastRun":       s.lastResult(user.ID),
	})
}

func (s *Server) handleUserSync(c *gin.Context) {
	user, ok := s.loadUser(c)
	if !ok {
		return
	}
	if err := s.requestSync(user.ID); err != nil {
		logging.Log.WithError(err).Warn("requesting sync")
	}
	c.Redirect(http.StatusFound, fmt.Sprintf("/users/%d", user.ID))
}

func (s *Server) handleStats(c *gin.Context) {
	stats, err := s.store.GetStats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) handleOpportunities(c *gin.Context) {
	user, ok := s.loadUserJSON(c)
	if !ok {
		return
	}
	opps, err := s.store.ListOpportunities(c.Request.Context(), user.ID, listLimit(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	out := make([]opportunityJSON, 0, len(opps))
	for _, o := range opps {
		out = append(out, toOpportunityJSON(o))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleDeliveries(c *gin.Context) {
	user, ok := s.loadUserJSON(c)
	if !ok {
		return
	}
	deliveries, err := s.store.ListDeliveries(c.Request.Context(), user.ID, listLimit(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	out := make([]deliveryJSON, 0, len(deliveries))
	for _, d := range deliveries {
		out = append(out, toDeliveryJSON(d))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleRequestSync(c *gin.Context) {
	user, ok := s.loadUserJSON(c)
	if !ok {
		return
	}
	if err := s.requestSync(user.ID); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "queued", "user_id": user.ID})
}

func (s *Server) handleLastSync(c *gin.Context) {
	user, ok := s.loadUserJSON(c)
	if !ok {
		return
	}
	res := s.lastResult(user.ID)
	if res == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no finished sync yet"})
		return
	}
	c.JSON(http.StatusOK, toSyncJSON(res))
}

func (s *Server) requestSync(userID int64) error {
	if s.pub == nil {
		return errors.New("sync requests are not accepted by this server")
	}
	return scheduler.RequestSync(s.pub, userID, scheduler.SourceUser)
}

func (s *Server) lastResult(userID int64) *pipeline.Result {
	if s.results == nil {
		return nil
	}
	return s.results.LastResult(userID)
}

func (s *Server) loadUser(c *gin.Context) (*database.User, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.String(http.StatusNotFound, "Not found")
		return nil, false
	}
	user, err := s.store.GetUser(c.Request.Context(), id)
	if err != nil {
		logging.Log.WithError(err).Error("loading user")
		c.String(http.StatusInternalServerError, "Internal server error")
		return nil, false
	}
	if user == nil {
		c.String(http.StatusNotFound, "Not found")
		return nil, false
	}
	return user, true
}

func (s *Server) loadUserJSON(c *gin.Context) (*database.User, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return nil, false
	}
	user, err := s.store.GetUser(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return nil, false
	}
	if user == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return nil, false
	}
	return user, true
}

func listLimit(c *gin.Context) int {
	n, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultListLimit)))
	if err != nil || n <= 0 {
		return defaultListLimit
	}
	if n > maxListLimit {
		return maxListLimit
	}
	return n
}

func (s *Server) render(c *gin.Context, code int, name string, data any) {
	tmpl, ok := s.pages[name]
	if !ok {
		logging.Log.Errorf("template %s not found", name)
		c.String(http.StatusInternalServerError, "Internal server error")
		return
	}
	c.Render(code, render.HTML{Template: tmpl, Name: "base.html", Data: data})
}

func renderMarkdown(text string) template.HTML {
	var buf bytes.Buffer
	if err := md.Convert([]byte(text), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(text))
	}
	return template.HTML(buf.String())
}

// Serve runs the server on 127.0.0.1:port until ctx ends.
func Serve(ctx context.Context, s *Server, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf("127.0.0.1:%d", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Log.Infof("serving on http://%s", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
