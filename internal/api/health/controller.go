package health

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

const statusOnline = "online"

type (
	StatusDto struct {
		Status string `json:"status"`
	}

	HealthDto struct {
		Status      string  `json:"status"`
		IdleMinutes float64 `json:"idle_minutes"`
	}

	IdleTracker interface {
		IdleMinutes() float64
	}

	Controller struct {
		tracker IdleTracker
	}
)

func New(tracker IdleTracker) *Controller {
	return &Controller{tracker: tracker}
}

func (controller *Controller) SetRoutes(eg *echo.Group) {
	eg.GET("/", controller.status)
	eg.GET("/health", controller.health)
}

func (controller *Controller) status(ec echo.Context) error {
	return ec.JSON(http.StatusOK, StatusDto{Status: statusOnline})
}

func (controller *Controller) health(ec echo.Context) error {
	return ec.JSON(http.StatusOK, HealthDto{Status: statusOnline, IdleMinutes: controller.tracker.IdleMinutes()})
}
