// Package webhook receives helpdesk push notifications over HTTP and
// feeds them to the bridge engine.
package webhook

import (
	"context"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/JKgeneral1/IT-tgBot/internal/bridge"
	"github.com/JKgeneral1/IT-tgBot/internal/dedupe"
)

const (
	// DefaultSecretHeader carries the shared webhook secret.
	DefaultSecretHeader = "X-Webhook-Secret"
	// maxBodyBytes bounds a single push body.
	maxBodyBytes = 1 << 20
)

// LifecycleHandler is the part of the engine the webhook needs.
type LifecycleHandler interface {
	HandleLifecycle(ctx context.Context, ev bridge.LifecycleEvent) error
}

// StartOpts holds configuration for the webhook server.
type StartOpts struct {
	Engine       LifecycleHandler
	Guard        *dedupe.Guard // optional; dedups redelivered bodies
	Secret       string        // optional; empty disables auth
	SecretHeader string        // defaults to DefaultSecretHeader
	Port         int
	Out          io.Writer
}

// Start launches the webhook HTTP server. It blocks until ctx is
// cancelled, then shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	router, err := newRouter(opts)
	if err != nil {
		return err
	}
	if opts.Port <= 0 {
		opts.Port = 8090
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", opts.Port),
		Handler: router,
	}

	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "Webhook listening on :%d\n", opts.Port)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("webhook: %w", err)
	}
	return nil
}

// newRouter builds the Gin router so tests can drive it without a
// listening socket.
func newRouter(opts StartOpts) (*gin.Engine, error) {
	if opts.Engine == nil {
		return nil, fmt.Errorf("webhook: engine is required")
	}
	if opts.SecretHeader == "" {
		opts.SecretHeader = DefaultSecretHeader
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.POST("/webhook", handlePush(opts))
	return router, nil
}

func handlePush(opts StartOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		if opts.Secret != "" {
			got := c.GetHeader(opts.SecretHeader)
			if subtle.ConstantTimeCompare([]byte(got), []byte(opts.Secret)) != 1 {
				c.JSON(http.StatusForbidden, gin.H{"error": "bad secret"})
				return
			}
		}

		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)
		body, err := c.GetRawData()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
			return
		}

		// Redelivered pushes carry byte-identical bodies.
		digest := ""
		if opts.Guard != nil {
			sum := sha1.Sum(body)
			digest = "hook:" + hex.EncodeToString(sum[:])
			if !opts.Guard.Remember(digest) {
				c.JSON(http.StatusOK, gin.H{"status": "duplicate"})
				return
			}
		}

		ev, err := parseEvent(body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if err := opts.Engine.HandleLifecycle(c.Request.Context(), ev); err != nil {
			if errors.Is(err, bridge.ErrValidation) {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			// Release the digest so the helpdesk's retry gets through.
			if opts.Guard != nil {
				opts.Guard.Forget(digest)
			}
			log.Printf("webhook: handle event for %s: %v", ev.TicketID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
