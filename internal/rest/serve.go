// Copyright (C) 2022 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package rest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	fl "github.com/mlnoga/floodlight/internal"
	"github.com/mlnoga/floodlight/internal/ops"
	"github.com/mlnoga/floodlight/internal/ops/despeckle"
	"github.com/mlnoga/floodlight/internal/ops/floodmask"
	"github.com/mlnoga/floodlight/internal/region"
	"github.com/mlnoga/floodlight/internal/source"
	"github.com/mlnoga/floodlight/web"
)

// REST server for despeckling and flood mapping. Responses of processing
// endpoints stream the operator log as plain text
type Server struct {
	Logger     zerolog.Logger
	MaxThreads int
	engine     *gin.Engine
}

func NewServer(logger zerolog.Logger, maxThreads int) *Server {
	s := &Server{Logger: logger, MaxThreads: maxThreads}
	r := gin.New()
	r.Use(gin.Recovery(), s.accessLog())
	r.GET("/", getIndex)
	r.StaticFS("/js", web.JavascriptFS())
	api := r.Group("/api")
	{
		v1 := api.Group("/v1")
		{
			v1.GET("/ping", getPing)
			v1.GET("/sysinfo", getSysInfo)
			v1.GET("/operators", getOperators)
			v1.POST("/despeckle", s.postDespeckle)
			v1.POST("/detect", s.postDetect)
			v1.POST("/pipeline", s.postPipeline)
		}
	}
	s.engine = r
	return s
}

func (s *Server) Handler() http.Handler { return s.engine }

// Listens and serves on the given address, e.g. ":8080"
func (s *Server) Run(addr string) error {
	s.Logger.Info().Str("component", "rest").Str("addr", addr).Msg("listening")
	return s.engine.Run(addr)
}

// Logs one structured line per request
func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		event := s.Logger.Info()
		if c.Writer.Status() >= http.StatusInternalServerError {
			event = s.Logger.Error()
		}
		event.Str("component", "rest").
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Str("client", c.ClientIP()).
			Msg("request")
	}
}

func getIndex(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", web.IndexHTML)
}

func getPing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "pong",
	})
}

func getSysInfo(c *gin.Context) {
	c.JSON(http.StatusOK, fl.GetSysInfo())
}

func getOperators(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"operators": ops.OperatorTypes()})
}

func printArgs(logWriter io.Writer, prefix, suffix string, args interface{}) error {
	m, err := json.MarshalIndent(args, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintf(logWriter, "%s%s%s", prefix, string(m), suffix)
	return nil
}

// Starts a plain text streaming response, and returns an operator context logging into it
func (s *Server) startStream(c *gin.Context, args interface{}) (*ops.Context, bool) {
	logWriter := c.Writer
	logWriter.Header().Set("Content-Type", "text/plain")
	logWriter.WriteHeader(http.StatusOK)

	if err := printArgs(logWriter, "Arguments:\n", "\n", args); err != nil {
		fmt.Fprintf(logWriter, "Error printing arguments: %s\n", err.Error())
		return nil, false
	}
	oc := ops.NewContext(logWriter)
	oc.Ctx = c.Request.Context()
	if s.MaxThreads > 0 {
		oc.MaxThreads = s.MaxThreads
	}
	return oc, true
}

// Materializes the promises, reports errors into the stream and flushes it
func (s *Server) finishStream(c *gin.Context, oc *ops.Context, promises []ops.Promise, err error) {
	if err == nil {
		_, err = ops.MaterializeAll(promises, oc.MaxThreads, true)
	}
	if err != nil {
		fmt.Fprintf(c.Writer, "error: %s\n", err.Error())
		s.Logger.Error().Str("component", "rest").Str("path", c.Request.URL.Path).Err(err).Msg("operation failed")
	} else {
		fmt.Fprintf(c.Writer, "done\n")
	}
	c.Writer.Flush()
}

type postDespeckleArgs struct {
	FilePatterns []string               `json:"filePatterns"`
	Despeckle    *despeckle.OpDespeckle `json:"despeckle"`
	Save         *ops.OpSave            `json:"save"`
}

func (s *Server) postDespeckle(c *gin.Context) {
	args := postDespeckleArgs{Despeckle: despeckle.NewOpDespeckleDefault(), Save: ops.NewOpSaveDefault()}
	if err := c.ShouldBindJSON(&args); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if args.Despeckle == nil {
		args.Despeckle = despeckle.NewOpDespeckleDefault()
	}
	if args.Save == nil {
		args.Save = ops.NewOpSaveDefault()
	}
	if len(args.FilePatterns) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no file patterns given"})
		return
	}
	seq := ops.NewOpSequence(ops.NewOpLoadMany(args.FilePatterns), args.Despeckle, args.Save)
	if err := ops.CheckPaths(seq); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	oc, ok := s.startStream(c, args)
	if !ok {
		return
	}
	promises, err := seq.MakePromises(nil, oc)
	s.finishStream(c, oc, promises, err)
}

type postDetectArgs struct {
	BeforeFile string              `json:"beforeFile"`
	AfterFile  string              `json:"afterFile"`
	Detect     *floodmask.OpDetect `json:"detect"`
	Save       *ops.OpSave         `json:"save"`
}

func (s *Server) postDetect(c *gin.Context) {
	args := postDetectArgs{Detect: floodmask.NewOpDetectDefault(), Save: ops.NewOpSaveDefault()}
	if err := c.ShouldBindJSON(&args); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if args.Detect == nil {
		args.Detect = floodmask.NewOpDetectDefault()
	}
	if args.Save == nil {
		args.Save = ops.NewOpSaveDefault()
	}
	if args.BeforeFile == "" || args.AfterFile == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "before and after files are required"})
		return
	}
	if err := ops.CheckPaths(ops.NewOpSequence(ops.NewOpLoad(1, args.BeforeFile), ops.NewOpLoad(2, args.AfterFile), args.Save)); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	oc, ok := s.startStream(c, args)
	if !ok {
		return
	}
	var promises []ops.Promise
	var err error
	for i, f := range []string{args.BeforeFile, args.AfterFile} {
		loaded, e := ops.NewOpLoad(i+1, f).MakePromises(nil, oc)
		if e != nil {
			err = errors.Join(err, e)
			continue
		}
		promises = append(promises, loaded...)
	}
	if err == nil {
		promises, err = ops.NewOpSequence(args.Detect, args.Save).MakePromises(promises, oc)
	}
	s.finishStream(c, oc, promises, err)
}

type postPipelineArgs struct {
	Catalogue string          `json:"catalogue"`
	Region    *region.Region  `json:"region"`
	OutDir    string          `json:"outDir"`
	Suffix    string          `json:"suffix"`
	Pipeline  json.RawMessage `json:"pipeline"`
}

// Runs an arbitrary operator graph against a scene catalogue, exporting into a directory
func (s *Server) postPipeline(c *gin.Context) {
	args := postPipelineArgs{OutDir: ".", Suffix: ".fits"}
	if err := c.ShouldBindJSON(&args); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if args.Region == nil {
		args.Region = region.TCCody
	}
	if !ops.IsPathAllowed(args.Catalogue) || !ops.IsPathAllowed(args.OutDir) ||
		!ops.IsPathAllowed(args.Suffix) || strings.ContainsAny(args.Suffix, `/\`) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "path outside current directory tree"})
		return
	}
	pipeline, err := ops.UnmarshalOperator(args.Pipeline)
	if err == nil {
		err = ops.CheckPaths(pipeline)
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cat, err := source.LoadCatalogue(args.Catalogue)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	for _, f := range cat.Files() {
		if !ops.IsPathAllowed(f) {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("catalogue file '%s' outside current directory tree", f)})
			return
		}
	}
	oc, ok := s.startStream(c, gin.H{"catalogue": args.Catalogue, "region": args.Region, "outDir": args.OutDir, "pipeline": pipeline})
	if !ok {
		return
	}
	cat.Log = oc.Log
	sink := source.NewFileSink(args.OutDir)
	sink.Suffix, sink.Log = args.Suffix, oc.Log
	oc.Source, oc.Sink, oc.Region = cat, sink, args.Region

	promises, err := pipeline.MakePromises(nil, oc)
	s.finishStream(c, oc, promises, err)
}
