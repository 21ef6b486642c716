package handler

import (
	"errors"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/dubflow/api/internal/middleware"
	"github.com/dubflow/api/internal/model"
	"github.com/dubflow/api/internal/service"
	"github.com/dubflow/api/pkg/response"
)

const (
	defaultSourceLanguage = "en"
	defaultTargetLanguage = "ja"
)

type TranslationHandler struct {
	service   *service.JobService
	validator *validator.Validate
}

func NewTranslationHandler(svc *service.JobService, v *validator.Validate) *TranslationHandler {
	return &TranslationHandler{
		service:   svc,
		validator: v,
	}
}

// Upload handles POST /api/translation/upload
// @Summary      Upload audio for translation
// @Description  Upload a spoken-word recording and start a translation job
// @Tags         Translation
// @Accept       multipart/form-data
// @Produce      json
// @Param        file           formData file   true  "Audio file (MP3, WAV, M4A, FLAC)"
// @Param        sourceLanguage formData string false "Source language (default en)"
// @Param        targetLanguage formData string false "Target language (default ja)"
// @Success      202 {object} model.UploadResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      413 {object} response.ErrorResponse
// @Failure      429 {object} response.ErrorResponse
// @Router       /api/translation/upload [post]
func (h *TranslationHandler) Upload(c *fiber.Ctx) error {
	file, err := c.FormFile("file")
	if err != nil {
		return response.ValidationError(c, "File is required", nil)
	}

	in := &service.UploadInput{
		OwnerID:        middleware.GetOwnerID(c),
		Filename:       file.Filename,
		Size:           file.Size,
		SourceLanguage: c.FormValue("sourceLanguage", defaultSourceLanguage),
		TargetLanguage: c.FormValue("targetLanguage", defaultTargetLanguage),
	}
	// Reject before reading the body.
	if _, _, err := h.service.ValidateUpload(in); err != nil {
		return h.fail(c, err)
	}

	f, err := file.Open()
	if err != nil {
		return response.ServiceError(c, "Failed to read uploaded file")
	}
	defer f.Close()
	in.Body = f

	result, err := h.service.Upload(c.UserContext(), in)
	if err != nil {
		return h.fail(c, err)
	}
	return response.Accepted(c, result)
}

// Status handles GET /api/translation/status/:jobId
// @Summary      Get translation job status
// @Tags         Translation
// @Produce      json
// @Param        jobId path string true "Job ID"
// @Success      200 {object} model.JobStatusResponse
// @Failure      404 {object} response.ErrorResponse
// @Router       /api/translation/status/{jobId} [get]
func (h *TranslationHandler) Status(c *fiber.Ctx) error {
	result, err := h.service.GetStatus(c.UserContext(), c.Params("jobId"))
	if err != nil {
		return h.fail(c, err)
	}
	return response.OK(c, result)
}

// Download handles GET /api/translation/download/:jobId/:fileType
// @Summary      Download a result file
// @Description  fileType is source_transcript, target_transcript, target_audio or audio_version (with ?version=N)
// @Tags         Translation
// @Param        jobId    path  string true  "Job ID"
// @Param        fileType path  string true  "File type"
// @Param        version  query int    false "Audio version"
// @Success      200 {file} file
// @Failure      400 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Router       /api/translation/download/{jobId}/{fileType} [get]
func (h *TranslationHandler) Download(c *fiber.Ctx) error {
	path, err := h.service.ResolveDownload(c.UserContext(), c.Params("jobId"), c.Params("fileType"), c.QueryInt("version", 0))
	if err != nil {
		return h.fail(c, err)
	}
	return c.Download(path)
}

// UserJobs handles GET /api/translation/jobs and /api/translation/jobs/:userId
// @Summary      List a user's translation jobs
// @Tags         Translation
// @Produce      json
// @Param        userId path int false "Owner ID (defaults to the caller)"
// @Success      200 {object} model.UserJobsResponse
// @Router       /api/translation/jobs/{userId} [get]
func (h *TranslationHandler) UserJobs(c *fiber.Ctx) error {
	ownerID := middleware.GetOwnerID(c)
	if raw := c.Params("userId"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return response.ValidationError(c, "User id must be an integer", nil)
		}
		ownerID = id
	}

	result, err := h.service.ListByOwner(c.UserContext(), ownerID)
	if err != nil {
		return h.fail(c, err)
	}
	return response.OK(c, result)
}

// Retry handles POST /api/translation/retry/:jobId
// @Summary      Retry a failed job
// @Description  Resumes a failed job from the step the stored artifacts allow
// @Tags         Translation
// @Produce      json
// @Param        jobId path string true "Job ID"
// @Success      202 {object} model.RetryResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Router       /api/translation/retry/{jobId} [post]
func (h *TranslationHandler) Retry(c *fiber.Ctx) error {
	result, err := h.service.Retry(c.UserContext(), c.Params("jobId"))
	if err != nil {
		return h.fail(c, err)
	}
	return response.Accepted(c, result)
}

// RegenerateAudio handles POST /api/translation/regenerate-audio/:jobId
// @Summary      Regenerate audio with new voices or speaking rate
// @Tags         Translation
// @Accept       json
// @Produce      json
// @Param        jobId   path string                       true "Job ID"
// @Param        request body model.RegenerateAudioRequest true "Regeneration options"
// @Success      202 {object} model.RegenerateAudioResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Router       /api/translation/regenerate-audio/{jobId} [post]
func (h *TranslationHandler) RegenerateAudio(c *fiber.Ctx) error {
	var req model.RegenerateAudioRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.service.RegenerateAudio(c.UserContext(), c.Params("jobId"), &req)
	if err != nil {
		return h.fail(c, err)
	}
	return response.Accepted(c, result)
}

// InjectFailure handles POST /api/translation/test/fail/:jobId
// The step comes from the JSON body or the "step" query parameter.
func (h *TranslationHandler) InjectFailure(c *fiber.Ctx) error {
	var req model.InjectFailureRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return response.ValidationError(c, "Invalid request body", nil)
		}
	}
	if req.Step == "" {
		req.Step = c.Query("step")
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.service.InjectFailure(c.UserContext(), c.Params("jobId"), req.Step)
	if err != nil {
		return h.fail(c, err)
	}
	return response.OK(c, result)
}

// fail maps service errors to HTTP responses.
func (h *TranslationHandler) fail(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, service.ErrJobNotFound):
		return response.NotFound(c, "Job not found")
	case errors.Is(err, service.ErrTestModeDisabled):
		return response.NotFound(c, "Test endpoints are not available")
	case errors.Is(err, service.ErrFileNotAvailable):
		return response.NotFound(c, "File not found")
	case errors.Is(err, service.ErrJobNotFailed),
		errors.Is(err, service.ErrJobNotCompleted):
		return response.InvalidState(c, err.Error(), nil)
	case errors.Is(err, service.ErrFileTooLarge):
		return response.FileTooLarge(c, err.Error(), nil)
	case errors.Is(err, service.ErrInvalidSpeakingRate),
		errors.Is(err, service.ErrTranscriptMissing),
		errors.Is(err, service.ErrSameLanguage),
		errors.Is(err, service.ErrUnsupportedLanguage),
		errors.Is(err, service.ErrUnsupportedFileType),
		errors.Is(err, service.ErrUnknownStep),
		errors.Is(err, service.ErrUnknownFileType):
		return response.ValidationError(c, err.Error(), nil)
	default:
		return response.ServiceError(c, err.Error())
	}
}
