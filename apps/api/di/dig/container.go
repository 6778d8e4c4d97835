package dig_container

import (
	"context"
	"fmt"
	"log"
	"os"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"go.uber.org/dig"

	echoapi "github.com/trezcool/lms/apps/api/echo"
	"github.com/trezcool/lms/core"
	"github.com/trezcool/lms/core/course"
	"github.com/trezcool/lms/core/enrollment"
	"github.com/trezcool/lms/core/payment"
	"github.com/trezcool/lms/core/purchase"
	"github.com/trezcool/lms/core/reconcile"
	"github.com/trezcool/lms/core/user"
	logsvc "github.com/trezcool/lms/services/logger"
	stripesvc "github.com/trezcool/lms/services/payment/stripe"
	"github.com/trezcool/lms/storage/database"
)

type DBLoggerParam struct {
	dig.In
	Logger core.Logger `name:"dbLogger"`
}

type ServerParams struct {
	dig.In
	Conf       *core.Config
	Logger     core.Logger
	Users      user.Repository
	Courses    course.Repository
	Ledger     *purchase.Ledger
	Reconciler *reconcile.Service
	Sweeper    *reconcile.Sweeper
	Payments   payment.Provider
	Validate   *validator.Validate
	Translator ut.Translator
}

func newLogger(conf *core.Config) core.Logger {
	stdLogger := log.New(os.Stdout, "API : ", log.LstdFlags)
	logger := logsvc.NewRollbarLogger(stdLogger, conf)
	logger.Enable(conf.RollbarToken != "" && !conf.Debug && !conf.TestMode)
	return logger
}

func newDBLogger(conf *core.Config) core.Logger {
	stdLogger := log.New(os.Stdout, "DB : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	logger := logsvc.NewRollbarLogger(stdLogger, conf)
	logger.Enable(conf.RollbarToken != "" && !conf.Debug && !conf.TestMode)
	return logger
}

func newStores(conf *core.Config, loggerParam DBLoggerParam) *database.Stores {
	stores, err := database.OpenStores(context.Background(), conf)
	if err != nil {
		loggerParam.Logger.Fatal(fmt.Sprintf("setting up %s store: %v", conf.Database.Engine, err), err)
	}
	return stores
}

func newRepositories(stores *database.Stores) (user.Repository, course.Repository, purchase.Repository) {
	return stores.Users, stores.Courses, stores.Purchases
}

func newLedger(conf *core.Config, repo purchase.Repository, validate *validator.Validate, logger core.Logger) *purchase.Ledger {
	return purchase.NewLedger(repo, validate, logger).WithPageSize(conf.Sweep.BatchSize)
}

func newSweeper(conf *core.Config, ledger *purchase.Ledger, applier *enrollment.Applier, logger core.Logger) *reconcile.Sweeper {
	return reconcile.NewSweeper(ledger, applier, logger, conf.Sweep)
}

func newPaymentProvider(conf *core.Config) *stripesvc.Provider {
	return stripesvc.NewProvider(conf.Stripe.WebhookSecret)
}

func newServer(p ServerParams) *echoapi.Server {
	return echoapi.NewServer(echoapi.ServerDeps{
		Conf:       p.Conf,
		Logger:     p.Logger,
		Users:      p.Users,
		Courses:    p.Courses,
		Ledger:     p.Ledger,
		Reconciler: p.Reconciler,
		Sweeper:    p.Sweeper,
		Payments:   p.Payments,
		Validate:   p.Validate,
		Translator: p.Translator,
	})
}

type NewConfigFunc func() *core.Config

// New returns a new dependency injection dig.Container.
// newConfig defaults to core.NewConfig.
func New(newConfig ...NewConfigFunc) *dig.Container {
	c := dig.New()

	confFunc := core.NewConfig
	if len(newConfig) > 0 && newConfig[0] != nil {
		confFunc = newConfig[0]
	}

	must(c.Provide(confFunc))
	must(c.Provide(newLogger))
	must(c.Provide(newDBLogger, dig.Name("dbLogger")))
	must(c.Provide(newStores))
	must(c.Provide(newRepositories))
	must(c.Provide(core.NewValidator))
	must(c.Provide(newLedger))
	must(c.Provide(enrollment.NewApplier))
	must(c.Provide(reconcile.NewService))
	must(c.Provide(newSweeper))
	must(c.Provide(newPaymentProvider, dig.As(new(payment.Provider))))
	must(c.Provide(newServer))

	return c
}

// must exits program if err happened
func must(err error) {
	if err != nil {
		log.Fatal(errors.Wrap(err, "failed to provide dependency").Error())
	}
}
