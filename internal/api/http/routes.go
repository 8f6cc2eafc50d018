package httpapi

import (
	"fmt"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/DK-com2/GPV-gif/internal/fetch"
	"github.com/DK-com2/GPV-gif/internal/forecast"
	"github.com/DK-com2/GPV-gif/internal/update"
)

var validate = validator.New()

// RegisterRoutes wires the HTTP handlers into the Fiber app. runHours is
// the configured valid run-hour set, used to validate manual refreshes.
func RegisterRoutes(app *fiber.App, updater *update.Updater, history *fetch.History, runHours []int) {
	v1 := app.Group("/api/v1")

	v1.Get("/status", func(c *fiber.Ctx) error {
		return c.JSON(updater.Status())
	})

	v1.Post("/refresh", func(c *fiber.Ctx) error {
		var req refreshQuery
		if err := req.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		var result update.TriggerResult
		if req.manual() {
			run, err := req.toRun(runHours)
			if err != nil {
				return fiber.NewError(fiber.StatusBadRequest, err.Error())
			}
			result = updater.TriggerRun(run)
		} else {
			result = updater.Trigger()
		}

		status := fiber.StatusAccepted
		if result == update.TriggerBusy {
			status = fiber.StatusConflict
		}
		return c.Status(status).JSON(fiber.Map{"result": result})
	})

	v1.Get("/attempts", func(c *fiber.Ctx) error {
		limit := 0
		if v := c.Query("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				return fiber.NewError(fiber.StatusBadRequest, "limit must be a non-negative integer")
			}
			limit = n
		}
		return c.JSON(fiber.Map{"attempts": history.Recent(limit)})
	})
}

// refreshQuery holds the optional manual-mode parameters of a refresh
// request. Either both date and hour are given, or neither.
type refreshQuery struct {
	Date string `validate:"omitempty,len=8,number"`
	Hour string `validate:"omitempty,number"`
}

func (r *refreshQuery) bind(c *fiber.Ctx) error {
	r.Date = c.Query("date")
	r.Hour = c.Query("hour")
	if (r.Date == "") != (r.Hour == "") {
		return fmt.Errorf("date and hour must be provided together")
	}
	return nil
}

func (r refreshQuery) manual() bool {
	return r.Date != ""
}

func (r refreshQuery) toRun(runHours []int) (forecast.Run, error) {
	date, err := time.Parse("20060102", r.Date)
	if err != nil {
		return forecast.Run{}, fmt.Errorf("date must be YYYYMMDD: %w", err)
	}
	hour, err := strconv.Atoi(r.Hour)
	if err != nil {
		return forecast.Run{}, fmt.Errorf("invalid hour: %w", err)
	}
	for _, h := range runHours {
		if h == hour {
			return forecast.Run{Date: date.UTC(), Hour: hour}, nil
		}
	}
	return forecast.Run{}, fmt.Errorf("hour must be one of %v", runHours)
}
