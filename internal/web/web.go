// Package web exposes the basic contact form over HTTP.
package web

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/shineum/contactform/internal/contact"
	"github.com/shineum/contactform/internal/provider"
)

// Settings supplies the mail defaults and the dispatch failure policy. It is
// read on every request.
type Settings interface {
	contact.Settings
	FailSilently() bool
}

// Options configures the HTTP handler.
type Options struct {
	Renderer contact.Renderer
	Provider provider.Provider
	Settings Settings

	// RateLimit bounds submissions per second across all clients. Zero
	// disables limiting.
	RateLimit rate.Limit
	RateBurst int
}

type handler struct {
	opts Options
}

// NewRouter builds the gin engine serving the contact form. Callers choose
// the gin mode before calling it.
func NewRouter(opts Options) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestID())
	router.Use(requestLogger())

	var limiter *rate.Limiter
	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(opts.RateLimit, burst)
	}

	h := &handler{opts: opts}
	router.GET("/healthz", h.health)
	router.GET("/contact", h.describe)
	router.POST("/contact", rateLimit(limiter), h.submit)

	return router
}

func (h *handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type fieldDescription struct {
	Name      string `json:"name"`
	Label     string `json:"label"`
	Kind      string `json:"kind"`
	MaxLength int    `json:"max_length,omitempty"`
	Required  bool   `json:"required"`
}

// describe returns the form schema so clients can render the inputs.
func (h *handler) describe(c *gin.Context) {
	fields := contact.BasicContactFields()
	out := make([]fieldDescription, 0, len(fields))
	for _, f := range fields {
		out = append(out, fieldDescription{
			Name:      f.Name,
			Label:     f.Label,
			Kind:      f.Kind.String(),
			MaxLength: f.MaxLength,
			Required:  f.Required,
		})
	}
	c.JSON(http.StatusOK, gin.H{"fields": out})
}

// maxFormMemory bounds how much of a multipart body is held in memory.
const maxFormMemory = 1 << 20

// parseForm fills PostForm from urlencoded and multipart bodies alike.
func parseForm(c *gin.Context) error {
	if c.ContentType() == gin.MIMEMultipartPOSTForm {
		return c.Request.ParseMultipartForm(maxFormMemory)
	}
	return c.Request.ParseForm()
}

func (h *handler) submit(c *gin.Context) {
	if err := parseForm(c); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid form body"})
		return
	}

	cf := contact.NewBasicContactForm(contact.Options{
		Renderer: h.opts.Renderer,
		Provider: h.opts.Provider,
		Settings: h.opts.Settings,
	})
	cf.Bind(c.Request.PostForm)

	if !cf.IsValid() {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":  "validation failed",
			"errors": cf.Errors(),
		})
		return
	}

	failSilently := h.opts.Settings != nil && h.opts.Settings.FailSilently()
	sent, err := cf.SendEmail(c.Request.Context(), c.Request, failSilently)
	if err != nil {
		requestID := c.GetString(requestIDKey)
		if errors.Is(err, contact.ErrDispatch) {
			slog.Error("contact email dispatch failed", "error", err, "request_id", requestID)
			c.JSON(http.StatusBadGateway, gin.H{"error": "failed to send message"})
			return
		}
		slog.Error("contact email composition failed", "error", err, "request_id", requestID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compose message"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"sent": sent})
}
