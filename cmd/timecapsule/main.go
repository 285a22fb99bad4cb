package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/chzyer/readline"
	"github.com/mdouchement/timecapsule/internal/config"
	"github.com/mdouchement/timecapsule/internal/database"
	"github.com/mdouchement/timecapsule/internal/delivery"
	"github.com/mdouchement/timecapsule/internal/logger"
	"github.com/mdouchement/timecapsule/internal/mcp"
	"github.com/mdouchement/timecapsule/internal/milestone"
	"github.com/mdouchement/timecapsule/internal/notifier"
	"github.com/mdouchement/timecapsule/internal/scheduler"
	"github.com/mdouchement/timecapsule/internal/server"
	"github.com/mdouchement/timecapsule/internal/server/service"
	"github.com/mdouchement/timecapsule/internal/vault"
	"github.com/muesli/coral"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

var (
	version  = "dev"
	revision = "none"
	date     = "unknown"

	cfg string
)

func main() {
	c := &coral.Command{
		Use:     "timecapsule",
		Short:   "Time capsule server",
		Version: fmt.Sprintf("%s - build %.7s @ %s - %s", version, revision, date, runtime.Version()),
		Args:    coral.ExactArgs(0),
	}

	for _, cmd := range []*coral.Command{initCmd, reindexCmd, migrateCmd, serverCmd, sweepCmd, useraddCmd, userdelCmd, mcpCmd} {
		cmd.Flags().StringVarP(&cfg, "config", "c", "", "Configuration file")
		c.AddCommand(cmd)
	}

	if err := c.Execute(); err != nil {
		log.Fatalf("%+v", err)
	}
}

// app holds the collaborators shared by the commands.
type app struct {
	konf     *config.Config
	logger   *logrus.Logger
	db       database.Client
	capsules *delivery.Service
}

func load(validate bool) (*config.Config, error) {
	konf, err := config.Load(cfg)
	if err != nil {
		return nil, err
	}
	if validate {
		if err = konf.Validate(); err != nil {
			return nil, err
		}
	}
	return konf, nil
}

func setup() (*app, error) {
	konf, err := load(true)
	if err != nil {
		return nil, err
	}

	l, err := logger.New(logger.Config{
		Level:  konf.Log.Level,
		Format: konf.Log.Format,
		File:   konf.Log.File,
	})
	if err != nil {
		return nil, err
	}

	db, err := database.Open(konf.DatabaseEngine, konf.DatabasePath)
	if err != nil {
		return nil, errors.Wrap(err, "could not open database")
	}

	codec, err := vault.New(konf.VaultKey)
	if err != nil {
		db.Close()
		return nil, err
	}

	mailer, err := notifier.New(notifier.SMTPConfig{
		Host:     konf.SMTP.Host,
		Port:     konf.SMTP.Port,
		Username: konf.SMTP.Username,
		Password: konf.SMTP.Password,
		From:     konf.SMTP.From,
		Timeout:  konf.SMTP.Timeout,
	}, l)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &app{
		konf:   konf,
		logger: l,
		db:     db,
		capsules: delivery.New(delivery.Config{
			Database:     db,
			Codec:        codec,
			Milestones:   milestone.NewGitHub(konf.Milestone.GitHubAPI).WithTimeout(konf.Milestone.Timeout),
			Notifier:     mailer,
			Logger:       l,
			DashboardURL: konf.DashboardURL,
			SettleDelay:  konf.Delivery.SettleDelay,
			CallTimeout:  konf.Delivery.CallTimeout,
			Concurrency:  konf.Delivery.Concurrency,
		}),
	}, nil
}

func (a *app) sweeper() *scheduler.Sweeper {
	return scheduler.New(scheduler.Config{
		Capsules:  a.capsules,
		Logger:    a.logger,
		Interval:  a.konf.Sweep.Interval,
		Reminders: a.konf.Sweep.Reminders,
	})
}

func listen(srv *http.Server, address string, l logrus.FieldLogger) error {
	message := "could not run server"
	parts := strings.Split(address, ":")
	if len(parts) == 2 && parts[0] == "unix" {
		socketFile := parts[1]
		if _, err := os.Stat(socketFile); err == nil {
			l.Infof("Removing existing %s", socketFile)
			os.Remove(socketFile)
		}
		defer os.Remove(socketFile)

		listener, err := net.Listen(parts[0], socketFile)
		if err != nil {
			return err
		}
		return errors.Wrap(ignoreClosed(srv.Serve(listener)), message)
	}

	srv.Addr = address
	return errors.Wrap(ignoreClosed(srv.ListenAndServe()), message)
}

func ignoreClosed(err error) error {
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

var (
	initCmd = &coral.Command{
		Use:   "init",
		Short: "Init the database",
		Args:  coral.ExactArgs(0),
		RunE: func(_ *coral.Command, _ []string) error {
			konf, err := load(false)
			if err != nil {
				return err
			}

			if konf.DatabaseEngine == database.EngineSQLite {
				db, err := database.Open(konf.DatabaseEngine, konf.DatabasePath)
				if err != nil {
					return err
				}
				return db.Close()
			}
			return database.StormInit(konf.DatabaseFilename())
		},
	}

	//
	reindexCmd = &coral.Command{
		Use:   "reindex",
		Short: "Reindex the database (storm engine)",
		Args:  coral.ExactArgs(0),
		RunE: func(_ *coral.Command, _ []string) error {
			konf, err := load(false)
			if err != nil {
				return err
			}

			if konf.DatabaseEngine == database.EngineSQLite {
				return errors.New("reindex is only available for the storm engine")
			}
			return database.StormReIndex(konf.DatabaseFilename())
		},
	}

	//
	migrateCmd = &coral.Command{
		Use:   "migrate",
		Short: "Migrate the database schema (sqlite engine)",
		Args:  coral.ExactArgs(0),
		RunE: func(_ *coral.Command, _ []string) error {
			konf, err := load(false)
			if err != nil {
				return err
			}

			if konf.DatabaseEngine != database.EngineSQLite {
				return errors.New("migrate is only available for the sqlite engine")
			}

			db, err := sql.Open("sqlite", konf.DatabaseFilename())
			if err != nil {
				return errors.Wrap(err, "could not get database connection")
			}
			defer db.Close()

			if err = database.Migrate(db); err != nil {
				return err
			}

			v, err := database.UserVersion(db)
			if err != nil {
				return err
			}
			fmt.Printf("Schema version: %d\n", v)
			return nil
		},
	}

	//
	//
	serverCmd = &coral.Command{
		Use:   "server",
		Short: "Start server",
		Args:  coral.ExactArgs(0),
		RunE: func(_ *coral.Command, _ []string) error {
			a, err := setup()
			if err != nil {
				return err
			}
			defer a.db.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			sweeper := a.sweeper()
			go func() {
				if err := sweeper.Run(ctx); err != nil {
					a.logger.WithError(err).Error("Sweeper failure")
				}
			}()

			engine := server.EchoEngine(server.Controller{
				Version:        version,
				Database:       a.db,
				Capsules:       a.capsules,
				Sweeper:        sweeper,
				Logger:         a.logger,
				NoRegistration: a.konf.NoRegistration,
				SigningKey:     a.konf.SecretKey,
			})
			server.PrintRoutes(engine)

			go func() {
				<-ctx.Done()

				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := engine.Shutdown(ctx); err != nil {
					a.logger.WithError(err).Error("Could not shutdown server")
				}
			}()

			a.logger.Infof("Server listening on %s", a.konf.Address)
			return listen(engine.Server, a.konf.Address, a.logger)
		},
	}

	//
	sweepCmd = &coral.Command{
		Use:   "sweep",
		Short: "Deliver the pending capsules and send the reminders once",
		Args:  coral.ExactArgs(0),
		RunE: func(_ *coral.Command, _ []string) error {
			a, err := setup()
			if err != nil {
				return err
			}
			defer a.db.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return a.sweeper().Pass(ctx)
		},
	}

	//
	useraddCmd = &coral.Command{
		Use:   "useradd EMAIL",
		Short: "Create a user",
		Args:  coral.ExactArgs(1),
		RunE: func(_ *coral.Command, args []string) error {
			konf, err := load(true)
			if err != nil {
				return err
			}

			password, err := readline.Password("Password: ")
			if err != nil {
				return err
			}

			db, err := database.Open(konf.DatabaseEngine, konf.DatabasePath)
			if err != nil {
				return errors.Wrap(err, "could not open database")
			}
			defer db.Close()

			user, err := service.NewUser(db, konf.SecretKey).Create(args[0], string(password))
			if err != nil {
				return err
			}
			fmt.Printf("User %d created: %s\n", user.ID, user.Email)
			return nil
		},
	}

	//
	userdelCmd = &coral.Command{
		Use:   "userdel EMAIL",
		Short: "Remove a user and its capsules",
		Args:  coral.ExactArgs(1),
		RunE: func(_ *coral.Command, args []string) error {
			konf, err := load(false)
			if err != nil {
				return err
			}

			db, err := database.Open(konf.DatabaseEngine, konf.DatabasePath)
			if err != nil {
				return errors.Wrap(err, "could not open database")
			}
			defer db.Close()

			user, err := db.FindUserByMail(args[0])
			if err != nil {
				if db.IsNotFound(err) {
					fmt.Println("No account for this email")
					return nil
				}
				return err
			}
			fmt.Println("User found:", user.ID)

			capsules, err := db.FindCapsulesByOwner(user.ID)
			if err != nil {
				return err
			}
			for _, c := range capsules {
				if err = db.DeleteCapsule(c.ID); err != nil && !db.IsNotFound(err) {
					return errors.Wrap(err, "delete capsules")
				}
			}
			fmt.Printf("%d capsule(s) removed\n", len(capsules))

			if err = db.Delete(user); err != nil && !db.IsNotFound(err) {
				return errors.Wrap(err, "delete user")
			}
			fmt.Println("User removed")
			return nil
		},
	}

	//
	mcpCmd = &coral.Command{
		Use:   "mcp",
		Short: "Serve the operator tools over MCP (stdio)",
		Args:  coral.ExactArgs(0),
		RunE: func(_ *coral.Command, _ []string) error {
			a, err := setup()
			if err != nil {
				return err
			}
			defer a.db.Close()

			return mcp.Run(a.capsules, a.logger, version)
		},
	}
)
