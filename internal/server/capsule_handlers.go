package server

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/mdouchement/timecapsule/internal/delivery"
	"github.com/mdouchement/timecapsule/internal/model"
	"github.com/mdouchement/timecapsule/internal/server/serializer"
	"github.com/mdouchement/timecapsule/internal/tcerror"
	"github.com/sirupsen/logrus"
)

type (
	// capsule contains all capsule handlers.
	capsule struct {
		capsules *delivery.Service
		sweeper  Kicker
		logger   logrus.FieldLogger
	}

	createParams struct {
		Title        string `json:"title"`
		Message      string `json:"message"`
		TriggerType  string `json:"trigger_type"`
		TriggerValue string `json:"trigger_value"`
		Type         string `json:"type"`
	}

	checkInParams struct {
		Location string `json:"location"`
	}

	milestoneParams struct {
		TargetCount *int `json:"target_count"`
	}
)

// Optional implements middlewares.Optional.
func (milestoneParams) Optional() {}

///// Create
////
//

// Create seals and stores a new capsule owned by the current user.
func (h *capsule) Create(c echo.Context) error {
	var params createParams
	if err := c.Bind(&params); err != nil {
		h.logger.WithError(err).Debug("Could not get parameters")
		return c.JSON(http.StatusBadRequest, tcerror.New("Could not get parameters."))
	}

	user := currentUser(c)
	created, err := h.capsules.CreateCapsule(c.Request().Context(), delivery.NewCapsule{
		OwnerID:      user.ID,
		OwnerEmail:   user.Email,
		Title:        params.Title,
		Message:      params.Message,
		TriggerKind:  model.TriggerKind(params.TriggerType),
		TriggerValue: params.TriggerValue,
		Type:         params.Type,
	})
	if err != nil {
		return err
	}

	// Capsules created with an elapsed date or a reached milestone are delivered by the next pass.
	if h.sweeper != nil && created.TriggerKind != model.TriggerLocation {
		h.sweeper.Kick()
	}

	return c.JSON(http.StatusCreated, echo.Map{
		"capsule": serializer.Capsule(delivery.View{Capsule: created, Message: delivery.LockedPlaceholder}),
	})
}

///// Mine
////
//

// Mine delivers the current user's overdue capsules and lists all of them.
func (h *capsule) Mine(c echo.Context) error {
	views, err := h.capsules.ListAndSweep(c.Request().Context(), currentUser(c).ID)
	if err != nil {
		return err
	}

	header := c.Response().Header()
	header.Set(echo.HeaderCacheControl, "no-store, no-cache, must-revalidate, private")
	header.Set("Pragma", "no-cache")
	header.Set("Expires", "0")

	return c.JSON(http.StatusOK, serializer.Capsules(views))
}

///// Simulate
////
//

// Simulate runs a sweep over all the pending capsules.
func (h *capsule) Simulate(c echo.Context) error {
	n, err := h.capsules.SweepAllPending(c.Request().Context())
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, echo.Map{
		"delivered_count": n,
	})
}

///// CheckIn
////
//

// CheckIn delivers the current user's capsules bound to the given location.
func (h *capsule) CheckIn(c echo.Context) error {
	var params checkInParams
	if err := c.Bind(&params); err != nil {
		h.logger.WithError(err).Debug("Could not get parameters")
		return c.JSON(http.StatusBadRequest, tcerror.New("Could not get parameters."))
	}

	result, err := h.capsules.CheckIn(c.Request().Context(), currentUser(c).ID, params.Location)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, echo.Map{
		"delivered": result.Delivered,
		"count":     result.Count,
		"message":   result.Message,
	})
}

///// Milestone
////
//

// Milestone evaluates the current user's milestone capsules.
// A target count simulates the milestone provider.
func (h *capsule) Milestone(c echo.Context) error {
	var params milestoneParams
	if err := c.Bind(&params); err != nil {
		h.logger.WithError(err).Debug("Could not get parameters")
		return c.JSON(http.StatusBadRequest, tcerror.New("Could not get parameters."))
	}

	user := currentUser(c)
	var n int
	var err error

	if params.TargetCount != nil {
		n, err = h.capsules.SimulateMilestones(c.Request().Context(), user.ID, *params.TargetCount)
	} else {
		if !user.HasMilestoneCredential() {
			h.logger.WithField("user", user.ID).Warn("No milestone credential, milestone capsules are skipped")
		}
		n, err = h.capsules.EvaluateMilestones(c.Request().Context(), user.ID)
	}
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, echo.Map{
		"delivered_count": n,
	})
}
