package server

import (
	"fmt"
	"net/http"
	"sort"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/mdouchement/timecapsule/internal/database"
	"github.com/mdouchement/timecapsule/internal/delivery"
	"github.com/mdouchement/timecapsule/internal/model"
	"github.com/mdouchement/timecapsule/internal/server/middlewares"
	"github.com/mdouchement/timecapsule/internal/server/service"
	"github.com/sirupsen/logrus"
)

type (
	// A Kicker requests an asynchronous sweep.
	Kicker interface {
		Kick()
	}

	// A Controller is an Iversion Of Control pattern used to init the server package.
	Controller struct {
		Version        string
		Database       database.Client
		Capsules       *delivery.Service
		Sweeper        Kicker
		Logger         logrus.FieldLogger
		NoRegistration bool
		// JWT params
		SigningKey []byte
	}
)

// EchoEngine instantiates the wep server.
func EchoEngine(ctrl Controller) *echo.Echo {
	if ctrl.Logger == nil {
		ctrl.Logger = logrus.StandardLogger()
	}

	engine := echo.New()
	engine.HideBanner = true
	engine.Use(middleware.Recover())
	engine.Use(middleware.Secure())
	engine.Use(middleware.CORSWithConfig(middleware.DefaultCORSConfig))
	engine.Use(middleware.Gzip())

	engine.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Format: "[${status}] ${method} ${uri} (${bytes_in}) ${latency_human}\n",
	}))
	engine.Binder = middlewares.NewBinder()
	// Error handler
	engine.HTTPErrorHandler = middlewares.HTTPErrorHandler(ctrl.Logger)

	engine.Pre(middleware.Rewrite(map[string]string{
		"/": "/version",
	}))

	////////////
	// Router //
	////////////

	router := engine.Group("")
	restricted := router.Group("")
	restricted.Use(middlewares.CurrentUser(ctrl.Database, ctrl.SigningKey))

	// generic handlers
	//
	router.GET("/version", func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{
			"version": ctrl.Version,
		})
	})

	//
	// auth handlers
	//
	auth := &auth{
		users:  service.NewUser(ctrl.Database, ctrl.SigningKey),
		logger: ctrl.Logger,
	}
	if !ctrl.NoRegistration {
		router.POST("/auth", auth.Register)
	}
	router.POST("/auth/sign_in", auth.Login)
	restricted.POST("/auth/milestone", auth.Milestone)

	//
	// capsule handlers
	//
	capsule := &capsule{
		capsules: ctrl.Capsules,
		sweeper:  ctrl.Sweeper,
		logger:   ctrl.Logger,
	}
	restricted.POST("/capsule", capsule.Create)
	restricted.GET("/capsule/my", capsule.Mine)
	restricted.POST("/capsule/simulate", capsule.Simulate)
	restricted.POST("/capsule/checkin", capsule.CheckIn)
	restricted.POST("/capsule/milestone", capsule.Milestone)

	return engine
}

// PrintRoutes prints the Echo engin exposed routes.
func PrintRoutes(e *echo.Echo) {
	ignored := map[string]bool{
		"":   true,
		".":  true,
		"/*": true,
	}

	routes := e.Routes()
	sort.Slice(routes, func(i int, j int) bool {
		return routes[i].Path < routes[j].Path
	})

	fmt.Println("Routes:")
	for _, route := range routes {
		if ignored[route.Path] {
			continue
		}
		fmt.Printf("%6s %s\n", route.Method, route.Path)
	}
}

func currentUser(c echo.Context) *model.User {
	user, ok := c.Get(middlewares.CurrentUserContextKey).(*model.User)
	if ok {
		return user
	}
	return nil
}
