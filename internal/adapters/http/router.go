// Package http wires the REST surfaces: the agent API participants publish
// into, and the observer API proctors watch through.
package http

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/invigil/capture/internal/adapters/rtc"
	"github.com/invigil/capture/internal/app"
	"github.com/invigil/capture/internal/config"
	"github.com/invigil/capture/internal/core"
	"github.com/invigil/capture/internal/domain"
	"github.com/invigil/capture/internal/observer"
	"github.com/invigil/capture/internal/platform/metrics"
)

// ingestRequest is the body of POST /api/ingest/:session.
type ingestRequest struct {
	DisplayName        string                    `json:"display_name"`
	MandatoryRecording bool                      `json:"mandatory_recording"`
	SDP                string                    `json:"sdp"`
	Sources            map[string]rtc.SourceMeta `json:"sources"`
}

// AgentAPI holds what the agent routes need: the pipeline manager plus the
// per-session ingest connections it hands out as acquirers.
type AgentAPI struct {
	cfg        *config.Config
	manager    *app.Manager
	newDecoder rtc.DecoderFactory

	mu      sync.Mutex
	ingests map[domain.SessionID]*rtc.Ingest
}

func NewAgentAPI(cfg *config.Config, manager *app.Manager, newDecoder rtc.DecoderFactory) *AgentAPI {
	return &AgentAPI{
		cfg:        cfg,
		manager:    manager,
		newDecoder: newDecoder,
		ingests:    make(map[domain.SessionID]*rtc.Ingest),
	}
}

// SetupAgentRouter wires the agent's REST surface.
func SetupAgentRouter(ctx context.Context, cfg *config.Config, api *AgentAPI, mx *metrics.Metrics) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(mx.Handler()))

	g := r.Group("/api")

	// POST /api/ingest/:session — apply the participant's offer, start the
	// pipeline, return the answer.
	g.POST("/ingest/:session", func(c *gin.Context) {
		sid := domain.SessionID(c.Param("session"))
		var req ingestRequest
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
			return
		}

		session, err := domain.NewCaptureSessionWithID(sid, req.DisplayName, req.MandatoryRecording)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		ingest, err := api.ingestFor(session.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		answer, err := ingest.HandleOffer(ctx, rtc.OfferRequest{SDP: req.SDP, Sources: req.Sources})
		if err != nil {
			api.dropIngest(session.ID)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		pipeline := api.manager.GetOrCreate(*session, ingest)
		go func() {
			if err := pipeline.Start(ctx); err != nil {
				log.Error().Err(err).Str("module", "http.agent").
					Str("session", string(session.ID)).Msg("pipeline start failed")
			}
			<-pipeline.Done()
			api.dropIngest(session.ID)
		}()

		c.JSON(http.StatusOK, gin.H{"session_id": session.ID, "sdp": answer.SDP})
	})

	// POST /api/ingest/:session/denied — the participant declined a capture
	// permission prompt before (or instead of) publishing.
	g.POST("/ingest/:session/denied", func(c *gin.Context) {
		sid := domain.SessionID(c.Param("session"))
		ingest, err := api.ingestFor(sid)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		ingest.ReportDenied()
		c.Status(http.StatusNoContent)
	})

	// POST /api/pipeline/:session/stop — single idempotent shutdown.
	g.POST("/pipeline/:session/stop", func(c *gin.Context) {
		sid := domain.SessionID(c.Param("session"))
		pipeline, ok := api.manager.Get(sid)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown session"})
			return
		}
		pipeline.Stop()
		<-pipeline.Done()

		artifact, err := pipeline.Result()
		resp := gin.H{"state": pipeline.State().String()}
		if artifact != nil {
			resp["artifact"] = gin.H{
				"object_name": artifact.ObjectName,
				"checksum":    artifact.Checksum,
				"size":        artifact.Size,
				"state":       artifact.State,
				"location":    artifact.Location,
			}
		}
		if err != nil {
			resp["error"] = err.Error()
			if errors.Is(err, core.ErrUploadFailed) || errors.Is(err, core.ErrArtifactTooLarge) {
				c.JSON(http.StatusOK, resp)
				return
			}
			c.JSON(http.StatusInternalServerError, resp)
			return
		}
		c.JSON(http.StatusOK, resp)
	})

	// GET /api/pipeline/:session/stats
	g.GET("/pipeline/:session/stats", func(c *gin.Context) {
		sid := domain.SessionID(c.Param("session"))
		pipeline, ok := api.manager.Get(sid)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown session"})
			return
		}
		c.JSON(http.StatusOK, pipeline.Stats())
	})

	// GET /api/pipelines — all active sessions.
	g.GET("/pipelines", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"pipelines": api.manager.List()})
	})

	return r
}

func (a *AgentAPI) ingestFor(sid domain.SessionID) (*rtc.Ingest, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if ing, ok := a.ingests[sid]; ok {
		return ing, nil
	}
	ing, err := rtc.NewIngest(sid, a.newDecoder)
	if err != nil {
		return nil, err
	}
	a.ingests[sid] = ing
	return ing, nil
}

func (a *AgentAPI) dropIngest(sid domain.SessionID) {
	a.mu.Lock()
	ing, ok := a.ingests[sid]
	delete(a.ingests, sid)
	a.mu.Unlock()
	if ok {
		ing.Close()
	}
}

// CloseAll tears down every ingest connection. Used on shutdown.
func (a *AgentAPI) CloseAll() {
	a.mu.Lock()
	all := make([]*rtc.Ingest, 0, len(a.ingests))
	for _, ing := range a.ingests {
		all = append(all, ing)
	}
	a.ingests = make(map[domain.SessionID]*rtc.Ingest)
	a.mu.Unlock()
	for _, ing := range all {
		ing.Close()
	}
}

// SetupObserverRouter wires the proctor-facing surface: websocket viewers
// plus health snapshots.
func SetupObserverRouter(ctx context.Context, cfg *config.Config, monitor *observer.Monitor, hub *observer.Hub, mx *metrics.Metrics) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(mx.Handler()))

	g := r.Group("/api")

	// GET /api/sessions — health snapshot across observed sessions.
	g.GET("/sessions", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"sessions": monitor.Snapshot()})
	})

	// GET /api/sessions/:session/health
	g.GET("/sessions/:session/health", func(c *gin.Context) {
		sid := domain.SessionID(c.Param("session"))
		c.JSON(http.StatusOK, gin.H{"session_id": sid, "state": monitor.Health(sid)})
	})

	// GET /ws/watch/:session — live frame + health stream for one session.
	r.GET("/ws/watch/:session", func(c *gin.Context) {
		sid := domain.SessionID(c.Param("session"))
		hub.ServeViewer(ctx, c.Writer, c.Request, sid)
	})

	return r
}
