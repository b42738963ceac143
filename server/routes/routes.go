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
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/meterproj/meterflow/pkg/pipeline"
)

// Routes registers the pipeline's HTTP surface on the router. Document
// paths end in /t/:t/k/*k so composite slash-joined keys pass through.
func Routes(r *gin.Engine, p *pipeline.Pipeline, opts pipeline.Options) {
	r.GET("/healthz", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	h := NewHandler(p, opts)
	r.POST(opts.Input.Post, h.PostInput)
	r.GET(opts.Input.Get+"/t/:t/k/*k", h.GetInput)
	r.GET(opts.Output.Get+"/t/:t/k/*k", h.GetOutput)
	if opts.Error.Get != "" {
		r.GET(opts.Error.Get+"/t/:tstart/:tend", h.GetErrors)
	}
	if opts.Error.Delete != "" {
		r.DELETE(opts.Error.Delete+"/t/:t/k/*k", h.DeleteError)
	}
}
