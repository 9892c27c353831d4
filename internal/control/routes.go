package control

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/danmuck/bittyctl/internal/auth"
	"github.com/danmuck/bittyctl/internal/discovery"
	"github.com/danmuck/bittyctl/internal/dispatch"
	"github.com/danmuck/bittyctl/internal/link"
	"github.com/danmuck/bittyctl/internal/observability"
	"github.com/danmuck/bittyctl/internal/protocol"
)

type linkInfo struct {
	Name          string    `json:"name"`
	Display       string    `json:"display"`
	LastKnownGood time.Time `json:"last_known_good"`
}

type sendRequest struct {
	Targets   []string `json:"targets"`
	Command   string   `json:"command"`
	Ints      []int    `json:"ints"`
	Args      []string `json:"args"`
	DelayMS   int      `json:"delay_ms"`
	TimeoutMS int      `json:"timeout_ms"`
}

type outcomeInfo struct {
	Link      string   `json:"link"`
	Command   string   `json:"command"`
	Line      string   `json:"line,omitempty"`
	Output    []string `json:"output,omitempty"`
	ElapsedMS int64    `json:"elapsed_ms"`
	Error     string   `json:"error,omitempty"`
}

type discoverRequest struct {
	Names    []string `json:"names"`
	Validate *bool    `json:"validate"`
}

type targetsRequest struct {
	Targets []string `json:"targets"`
}

type selectRequest struct {
	Name string `json:"name"`
}

var errUnknownTarget = errors.New("unknown link")

func (s *Server) registerRoutes() {
	r := s.router
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.started).String(),
			"service": "bittyctl",
			"links":   s.dispatcher.Registry().Len(),
		})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/links", func(c *gin.Context) {
		links := s.dispatcher.Registry().Snapshot()
		out := make([]linkInfo, 0, len(links))
		for _, l := range links {
			out = append(out, linkInfo{Name: l.Name, Display: l.DisplayName, LastKnownGood: l.LastKnownGood()})
		}
		c.JSON(http.StatusOK, gin.H{"links": out})
	})

	r.GET("/replug", s.handleReplugStatus)

	guarded := r.Group("/", requireToken(auth.ForToken(s.cfg.Token)))
	guarded.POST("/send", s.handleSend)
	guarded.POST("/discover", s.handleDiscover)
	guarded.POST("/replug", s.handleReplugStart)
	guarded.POST("/replug/select", s.handleReplugSelect)
	guarded.POST("/close", s.handleClose)
}

func (s *Server) handleSend(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cmd := req.command()
	for _, sub := range s.dispatcher.SplitForRangeOverflow(cmd) {
		if _, err := protocol.Encode(s.dispatcher.Profile(), sub); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	targets, err := s.resolve(req.Targets)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	observability.TagRequest(c, cmd.String(), linkNames(targets))

	res, err := s.dispatcher.Send(c.Request.Context(), targets, cmd)
	if errors.Is(err, dispatch.ErrNoLinksAvailable) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	last, _ := res.Last()
	c.JSON(http.StatusOK, gin.H{
		"ok":       last.Err == nil,
		"outcomes": outcomes(res),
	})
}

func (r sendRequest) command() protocol.Command {
	var cmd protocol.Command
	switch {
	case len(r.Args) > 0:
		cmd = protocol.ArgCommand(r.Args, 0)
	case len(r.Ints) > 0:
		cmd = protocol.Command{Name: r.Command, Ints: append([]int(nil), r.Ints...)}
	default:
		cmd = protocol.BareCommand(r.Command, 0)
	}
	cmd.Delay = time.Duration(r.DelayMS) * time.Millisecond
	cmd.Timeout = time.Duration(r.TimeoutMS) * time.Millisecond
	return cmd
}

func (s *Server) handleDiscover(c *gin.Context) {
	var req discoverRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	validate := req.Validate == nil || *req.Validate

	var (
		delta discovery.Delta
		err   error
	)
	if len(req.Names) == 0 {
		delta, err = s.discoverer.DiscoverSystem(c.Request.Context(), validate)
	} else {
		delta, err = s.discoverer.Discover(c.Request.Context(), req.Names, validate)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"admitted": delta.Admitted,
		"rejected": delta.Rejected,
		"unopened": delta.Unopened,
		"skipped":  delta.Skipped,
		"pending":  delta.Pending,
	})
}

func (s *Server) handleReplugStart(c *gin.Context) {
	w, started, err := s.replug.Start(s.base)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	status := http.StatusAccepted
	if !started {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{"started": started, "state": w.State().String()})
}

func (s *Server) handleReplugStatus(c *gin.Context) {
	w := s.replug.Current()
	if w == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no replug watch"})
		return
	}
	body := gin.H{
		"state":    w.State().String(),
		"active":   w.Active(),
		"baseline": w.Baseline().Names,
		"admitted": w.Admitted(),
	}
	if w.State() == discovery.StateManualFallback {
		candidates, err := w.ManualCandidates()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		body["candidates"] = candidates
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) handleReplugSelect(c *gin.Context) {
	var req selectRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}
	w := s.replug.Current()
	if w == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no replug watch"})
		return
	}
	observability.TagRequest(c, "", []string{req.Name})
	ok, err := w.SubmitManualSelection(c.Request.Context(), req.Name)
	if errors.Is(err, discovery.ErrNotManual) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "state": w.State().String()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"admitted": ok, "state": w.State().String()})
}

func (s *Server) handleClose(c *gin.Context) {
	var req targetsRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	var targets []*link.Link
	if len(req.Targets) > 0 {
		var err error
		if targets, err = s.resolve(req.Targets); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
	}
	if targets == nil {
		targets = s.dispatcher.Registry().Snapshot()
	}
	observability.TagRequest(c, protocol.TokenDisconnect.String(), linkNames(targets))
	res := s.dispatcher.CloseAll(c.Request.Context(), targets)
	c.JSON(http.StatusOK, gin.H{"outcomes": outcomes(res), "links": s.dispatcher.Registry().Len()})
}

// resolve maps names to admitted links; no names means every link.
func (s *Server) resolve(names []string) ([]*link.Link, error) {
	reg := s.dispatcher.Registry()
	if len(names) == 0 {
		return reg.Snapshot(), nil
	}
	out := make([]*link.Link, 0, len(names))
	for _, name := range names {
		l, ok := reg.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("%w: %s", errUnknownTarget, name)
		}
		out = append(out, l)
	}
	return out, nil
}

func linkNames(links []*link.Link) []string {
	out := make([]string, 0, len(links))
	for _, l := range links {
		out = append(out, l.Name)
	}
	return out
}

func outcomes(res dispatch.Result) []outcomeInfo {
	out := make([]outcomeInfo, 0, len(res.Outcomes))
	for _, o := range res.Outcomes {
		info := outcomeInfo{
			Link:      o.Link.Name,
			Command:   o.Command.String(),
			Line:      o.Echo.Line,
			Output:    o.Echo.Output,
			ElapsedMS: o.Echo.Elapsed.Milliseconds(),
		}
		if o.Err != nil {
			info.Error = o.Err.Error()
		}
		out = append(out, info)
	}
	return out
}
