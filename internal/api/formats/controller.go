package formats

import (
	"context"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/priyankadasarigt/ytdown/internal/extract"
	"github.com/priyankadasarigt/ytdown/pkg/logger"
)

const missingURLMessage = "URL is required"

var controllerLogger = logger.Get("FormatsController")

type (
	FetchRequest struct {
		URL string `json:"url" validate:"required"`
	}

	// FormatsResponse wraps the listing produced by the extractor. A nil
	// BestAudio is rendered as JSON null.
	FormatsResponse struct {
		Success bool `json:"success"`
		*extract.FormatListing
	}

	Fetcher interface {
		FetchFormats(ctx context.Context, url string) (*extract.FormatListing, error)
	}

	Activity interface {
		Touch()
	}

	Controller struct {
		validate *validator.Validate
		fetcher  Fetcher
		activity Activity
	}
)

func New(validate *validator.Validate, fetcher Fetcher, activity Activity) *Controller {
	return &Controller{validate: validate, fetcher: fetcher, activity: activity}
}

// SetRoutes binds the routes of this controller. The group is expected to
// already enforce token possession.
func (controller *Controller) SetRoutes(eg *echo.Group) {
	eg.POST("/fetch_formats", controller.fetch)
}

func (controller *Controller) fetch(ec echo.Context) error {
	controller.activity.Touch()

	var request FetchRequest
	if err := ec.Bind(&request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, missingURLMessage)
	}
	if err := controller.validate.Struct(request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, missingURLMessage)
	}

	listing, err := controller.fetcher.FetchFormats(ec.Request().Context(), request.URL)
	if err != nil {
		controllerLogger.Emit(logger.ERROR, "Failed to fetch formats for %s: %v\n", request.URL, err)
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return ec.JSON(http.StatusOK, FormatsResponse{Success: true, FormatListing: listing})
}
