package downloads

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/priyankadasarigt/ytdown/internal/job"
	"github.com/priyankadasarigt/ytdown/pkg/logger"
)

const (
	notFoundMessage    = "Download not found"
	unavailableMessage = "Download not available"
)

var controllerLogger = logger.Get("DownloadsController")

type (
	// DownloadDto is the retrieval information for a completed job.
	DownloadDto struct {
		Success     bool   `json:"success"`
		DownloadURL string `json:"download_url"`
		Filename    string `json:"filename"`
	}

	JobLookup interface {
		Lookup(id uuid.UUID) (job.Job, error)
	}

	Controller struct {
		jobs JobLookup
	}
)

func New(jobs JobLookup) *Controller {
	return &Controller{jobs: jobs}
}

// SetRoutes binds the routes of this controller. The group is expected to
// already enforce token possession.
func (controller *Controller) SetRoutes(eg *echo.Group) {
	eg.GET("/download/:id", controller.get)
}

func (controller *Controller) get(ec echo.Context) error {
	id, err := uuid.Parse(ec.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, notFoundMessage)
	}

	found, err := controller.jobs.Lookup(id)
	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, notFoundMessage)
		}

		controllerLogger.Emit(logger.ERROR, "Failed to lookup job %s: %v\n", id, err)
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	if found.Result == nil || found.Result.DownloadURL == "" {
		return echo.NewHTTPError(http.StatusNotFound, unavailableMessage)
	}

	return ec.JSON(http.StatusOK, DownloadDto{
		Success:     true,
		DownloadURL: found.Result.DownloadURL,
		Filename:    found.Result.DisplayName,
	})
}
