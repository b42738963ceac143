/*
Copyright 2023 The Meterproj Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package routes

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/meterproj/meterflow/pkg/keys"
	"github.com/meterproj/meterflow/pkg/pipeline"
	"github.com/meterproj/meterflow/pkg/store"
)

// Handler exposes one pipeline over HTTP.
type Handler struct {
	p    *pipeline.Pipeline
	opts pipeline.Options
}

// NewHandler returns a Handler for the pipeline.
func NewHandler(p *pipeline.Pipeline, opts pipeline.Options) *Handler {
	return &Handler{p: p, opts: opts}
}

// PostInput accepts an input document, runs it through the pipeline and
// answers 201 with the Location of the stamped input.
func (h *Handler) PostInput(c *gin.Context) {
	var doc store.Doc
	if err := c.ShouldBindJSON(&doc); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "badrequest", "reason": err.Error()})
		return
	}

	stamped, err := h.p.Play(c.Request.Context(), doc, c.GetHeader("Authorization"))
	if err != nil {
		c.JSON(httpStatus(err), errorBody(err))
		return
	}

	id := stamped.ID()
	c.Header("Location", fmt.Sprintf("%s/t/%s/k/%s", h.opts.Input.Get, keys.T(id), keys.K(id)))
	c.JSON(http.StatusCreated, stamped)
}

// GetInput serves a logged input document by its time and key.
func (h *Handler) GetInput(c *gin.Context) {
	h.getDoc(c, h.p.GetInput)
}

// GetOutput serves a logged output document by its time and key.
func (h *Handler) GetOutput(c *gin.Context) {
	h.getDoc(c, h.p.GetOutput)
}

func (h *Handler) getDoc(c *gin.Context, get func(ctx context.Context, k string, t int64) (store.Doc, error)) {
	k, t, ok := docParams(c)
	if !ok {
		return
	}
	doc, err := get(c.Request.Context(), k, t)
	if err != nil {
		c.JSON(httpStatus(err), errorBody(err))
		return
	}
	if doc == nil {
		c.Status(http.StatusNotFound)
		return
	}
	c.JSON(http.StatusOK, doc)
}

// GetErrors lists error documents in a bounded time window, newest first.
func (h *Handler) GetErrors(c *gin.Context) {
	tstart, err1 := strconv.ParseInt(c.Param("tstart"), 10, 64)
	tend, err2 := strconv.ParseInt(c.Param("tend"), 10, 64)
	if err1 != nil || err2 != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "badrequest", "reason": "invalid time window"})
		return
	}
	docs, err := h.p.GetErrors(c.Request.Context(), tstart, tend)
	if err != nil {
		c.JSON(httpStatus(err), errorBody(err))
		return
	}
	c.JSON(http.StatusOK, docs)
}

// DeleteError removes one error document, audited with the caller identity.
func (h *Handler) DeleteError(c *gin.Context) {
	k, t, ok := docParams(c)
	if !ok {
		return
	}
	found, err := h.p.DeleteError(c.Request.Context(), k, t, c.GetHeader("Authorization"))
	if err != nil {
		c.JSON(httpStatus(err), errorBody(err))
		return
	}
	if !found {
		c.Status(http.StatusNotFound)
		return
	}
	c.Status(http.StatusOK)
}

func docParams(c *gin.Context) (string, int64, bool) {
	t, err := strconv.ParseInt(c.Param("t"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "badrequest", "reason": "invalid time"})
		return "", 0, false
	}
	k := strings.TrimPrefix(c.Param("k"), "/")
	if k == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "badrequest", "reason": "missing key"})
		return "", 0, false
	}
	return k, t, true
}

// httpStatus translates a pipeline error onto the response status.
func httpStatus(err error) int {
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusInternalServerError
	}
	return store.StatusOf(err, http.StatusInternalServerError)
}

func errorBody(err error) gin.H {
	type coder interface{ Code() string }
	var c coder
	code := "internal"
	if errors.As(err, &c) {
		code = c.Code()
	}
	return gin.H{"error": code, "reason": err.Error()}
}
