package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/coderoom/internal/judge"
)

// RunRequest is the body of POST /run-code.
type RunRequest struct {
	LanguageID int    `json:"languageId"`
	SourceCode string `json:"sourceCode"`
	Stdin      string `json:"stdin"`
}

// RunCode proxies one submission to the execution service. The response
// carries stdout when the program printed any and stderr otherwise.
func (h *Handler) RunCode(c *gin.Context) {
	var req RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	sub := judge.Submission{LanguageID: req.LanguageID, SourceCode: req.SourceCode, Stdin: req.Stdin}
	if err := sub.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if h.runner == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "code execution is not configured"})
		return
	}

	result, err := h.runner.Run(c.Request.Context(), sub)
	if err != nil {
		h.logger.Warn("code execution failed", "language", req.LanguageID, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "Error executing code",
			"details": upstreamDetails(err),
		})
		return
	}

	stdout, stderr, isStderr := result.Output()
	if isStderr {
		c.JSON(http.StatusOK, gin.H{"stderr": stderr})
		return
	}
	c.JSON(http.StatusOK, gin.H{"stdout": stdout})
}

// upstreamDetails embeds the upstream body as JSON when it is JSON.
func upstreamDetails(err error) any {
	var upstream *judge.UpstreamError
	if errors.As(err, &upstream) && upstream.Body != "" {
		if json.Valid([]byte(upstream.Body)) {
			return json.RawMessage(upstream.Body)
		}
		return upstream.Body
	}
	return err.Error()
}
