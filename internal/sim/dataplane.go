package sim

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	maxUploadBytes = 8 << 20

	welcomeLine = "Welcome, you are now connected to log-streaming service."
)

func (s *Server) handleUpload(c *gin.Context) {
	site := c.Param("site")
	rel := strings.TrimPrefix(c.Param("filepath"), "/")
	if rel == "" {
		c.String(http.StatusBadRequest, "empty file path")
		return
	}
	data, err := io.ReadAll(io.LimitReader(c.Request.Body, maxUploadBytes))
	if err != nil {
		c.String(http.StatusInternalServerError, "read upload body")
		return
	}
	if err := s.state.storeFile(site, rel, data); err != nil {
		c.String(http.StatusNotFound, "no such site")
		return
	}
	s.logf("sim: %s: stored %s (%d bytes)", site, rel, len(data))
	c.Status(http.StatusCreated)
}

func (s *Server) handleSyncTriggers(c *gin.Context) {
	site := c.Param("site")
	if err := s.state.markSync(site); err != nil {
		c.String(http.StatusNotFound, "no such site")
		return
	}
	s.logf("sim: %s: triggers synced", site)
	c.Status(http.StatusNoContent)
}

// handleInvoke plays the deployed handler: it logs the execution frame and
// echoes the request body, with an extra error line when the body asks for
// one (matching the probe function code the CLI ships).
func (s *Server) handleInvoke(c *gin.Context) {
	site, fn := c.Param("site"), c.Param("fn")
	if err := s.state.invokable(site, fn); err != nil {
		if errors.Is(err, errNoFunction) {
			c.String(http.StatusNotFound, "no such function")
			return
		}
		c.String(http.StatusNotFound, "no such app")
		return
	}
	hub, err := s.state.siteHub(site)
	if err != nil {
		c.String(http.StatusNotFound, "no such app")
		return
	}

	body, _ := io.ReadAll(io.LimitReader(c.Request.Body, maxUploadBytes))
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = "(empty body)"
	}

	id := uuid.NewString()[:8]
	started := time.Now()
	s.emit(hub, fmt.Sprintf("[Information] Executing '%s' (Reason='HTTP request', Id=%s)", fn, id))
	s.emit(hub, fmt.Sprintf("[Information] %s received: %s", fn, msg))
	if strings.Contains(strings.ToLower(msg), "error") {
		s.emit(hub, fmt.Sprintf("[Error] %s reported a failure: %s", fn, msg))
	}
	s.emit(hub, fmt.Sprintf("[Information] Executed '%s' (Succeeded, Id=%s, Duration=%dms)", fn, id, time.Since(started).Milliseconds()))

	s.metrics.invocationsTotal.WithLabelValues(site, fn).Inc()
	c.String(http.StatusOK, "Processed by %s: %s", fn, msg)
}

func (s *Server) emit(hub *logHub, text string) {
	line := time.Now().UTC().Format("2006-01-02T15:04:05.000") + " " + text
	hub.publish(line)
	s.metrics.linesPublished.Inc()
}

// handleLogStream holds the connection open, forwarding the site's log
// lines as they happen and heartbeat lines while idle. It ends when the
// client disconnects or the simulator stops.
func (s *Server) handleLogStream(c *gin.Context) {
	site := c.Param("site")
	hub, err := s.state.siteHub(site)
	if err != nil {
		c.String(http.StatusNotFound, "no such site")
		return
	}
	lines, detach := hub.subscribe()
	defer detach()

	s.metrics.streamClients.Inc()
	defer s.metrics.streamClients.Dec()

	c.Header("Content-Type", "text/plain; charset=utf-8")
	c.Status(http.StatusOK)

	writeLine := func(line string) bool {
		if _, err := io.WriteString(c.Writer, line+"\r\n"); err != nil {
			return false
		}
		c.Writer.Flush()
		return true
	}
	if !writeLine(welcomeLine) {
		return
	}

	heartbeat := time.NewTicker(s.opts.HeartbeatInterval)
	defer heartbeat.Stop()
	idleLine := fmt.Sprintf("No new trace in the past %s.", s.opts.HeartbeatInterval)

	clientGone := c.Request.Context().Done()
	for {
		select {
		case line := <-lines:
			if !writeLine(line) {
				return
			}
		case <-heartbeat.C:
			if !writeLine(idleLine) {
				return
			}
		case <-clientGone:
			return
		case <-s.ctx.Done():
			return
		}
	}
}
