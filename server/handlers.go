package server

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mikeydub/comment-references/env"
	"github.com/mikeydub/comment-references/service/references"
	"github.com/mikeydub/comment-references/util"
)

type healthcheckResponse struct {
	Message string `json:"msg"`
	Env     string `json:"env"`
}

func healthcheck() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, healthcheckResponse{
			Message: "comment references operational",
			Env:     env.GetString("ENV"),
		})
	}
}

type resolveInput struct {
	references.Request
	// Strategy defaults to cache-first
	Strategy references.Strategy `json:"strategy"`
}

func resolveReferences(svc *references.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in resolveInput
		if err := c.ShouldBindJSON(&in); err != nil {
			util.ErrResponse(c, http.StatusBadRequest, err)
			return
		}

		if in.Strategy == "" {
			in.Strategy = references.StrategyCacheFirst
		}
		if !in.Strategy.IsValid() {
			util.ErrResponse(c, http.StatusBadRequest, fmt.Errorf("unknown strategy %q", in.Strategy))
			return
		}

		c.JSON(http.StatusOK, svc.Resolve(c.Request.Context(), in.Strategy, in.Request))
	}
}
