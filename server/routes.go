package main

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"example.com/live_transcriber/pkg/errors"
	"example.com/live_transcriber/pkg/store"
)

type createRecordingRequest struct {
	UserID   string `json:"userId" binding:"required"`
	Language string `json:"language" binding:"required"`
}

type createRecordingResponse struct {
	RecordingID string `json:"recordingId"`
}

// recordingResponse embeds the full segments in place of their ids.
type recordingResponse struct {
	*store.Recording
	Segments []store.Segment `json:"segments"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleCreateRecording(c *gin.Context) {
	var req createRecordingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, bindError(err))
		return
	}

	id, err := s.store.CreateRecording(c.Request.Context(), req.UserID, req.Language)
	if err != nil {
		respondError(c, errors.Persistence("create recording", err))
		return
	}

	s.log.Info("Recording created", map[string]interface{}{
		"recording_id": id,
		"user_id":      req.UserID,
	})
	c.JSON(http.StatusCreated, createRecordingResponse{RecordingID: id})
}

func (s *Server) handleGetRecording(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	rec, err := s.store.GetRecording(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}
	segments, err := s.store.GetSegmentsForRecording(ctx, id)
	if err != nil {
		respondError(c, errors.Persistence("get segments", err))
		return
	}
	if segments == nil {
		segments = []store.Segment{}
	}
	c.JSON(http.StatusOK, recordingResponse{Recording: rec, Segments: segments})
}

func bindError(err error) *errors.AppError {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return errors.InvalidInput(verrs[0].Field(), verrs[0].Tag())
	}
	return errors.InvalidInput("body", err.Error())
}

func respondError(c *gin.Context, err error) {
	status, body := errors.ResponseFor(err)
	c.JSON(status, body)
}
