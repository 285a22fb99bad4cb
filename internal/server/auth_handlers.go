package server

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/mdouchement/timecapsule/internal/server/service"
	"github.com/mdouchement/timecapsule/internal/tcerror"
	"github.com/sirupsen/logrus"
)

// auth contains all authentication handlers.
type auth struct {
	users  *service.UserService
	logger logrus.FieldLogger
}

///// Register
////
//

// Register handler is used to register the user.
func (h *auth) Register(c echo.Context) error {
	// Filter params
	var params service.RegisterParams
	if err := c.Bind(&params); err != nil {
		return c.JSON(http.StatusBadRequest, tcerror.New("Could not get user's params."))
	}

	if params.Email == "" {
		return c.JSON(http.StatusBadRequest, tcerror.New("No email provided."))
	}
	if params.Password == "" {
		return c.JSON(http.StatusBadRequest, tcerror.New("No password provided."))
	}

	register, err := h.users.Register(params)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, register)
}

///// Login
////
//

// Login used for authenticates a user and returns a JWT.
func (h *auth) Login(c echo.Context) error {
	// Filter params
	var params service.LoginParams
	if err := c.Bind(&params); err != nil {
		h.logger.WithError(err).Debug("Could not get parameters")
		return c.JSON(http.StatusBadRequest, tcerror.New("Could not get credentials."))
	}

	if params.Email == "" || params.Password == "" {
		return c.JSON(http.StatusBadRequest, tcerror.New("No email or password provided."))
	}

	login, err := h.users.Login(params)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, login)
}

///// Milestone
////
//

// Milestone stores the milestone provider credential of the current user.
func (h *auth) Milestone(c echo.Context) error {
	// Filter params
	var params service.MilestoneParams
	if err := c.Bind(&params); err != nil {
		h.logger.WithError(err).Debug("Could not get parameters")
		return c.JSON(http.StatusBadRequest, tcerror.New("Could not get parameters."))
	}

	milestone, err := h.users.Milestone(currentUser(c), params)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, milestone)
}
