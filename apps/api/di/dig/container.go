package dig_container

import (
	"context"
	"fmt"
	"log"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"go.uber.org/dig"

	echoapi "github.com/mpkschool/backend/apps/api/echo"
	"github.com/mpkschool/backend/core"
	"github.com/mpkschool/backend/core/auth"
	"github.com/mpkschool/backend/core/chat"
	"github.com/mpkschool/backend/core/realtime"
	"github.com/mpkschool/backend/core/user"
	logsvc "github.com/mpkschool/backend/services/logger"
	metricsvc "github.com/mpkschool/backend/services/metrics"
	"github.com/mpkschool/backend/storage"
)

type DBLoggerParam struct {
	dig.In
	Logger core.Logger `name:"dbLogger"`
}

type serverParams struct {
	dig.In

	Conf       *core.Config
	Logger     core.Logger
	UserSvc    user.ServiceInterface
	ChatSvc    chat.ServiceInterface
	Resolver   *auth.Resolver
	Hub        *realtime.Hub
	Metrics    *metricsvc.Collector
	Storage    *storage.Storage
	Validate   *validator.Validate
	Translator ut.Translator
}

func newLogger(conf *core.Config) core.Logger {
	return logsvc.NewLogger("API : ", conf)
}

func newDBLogger(conf *core.Config) core.Logger {
	return logsvc.NewLogger("DB : ", conf)
}

func newStorage(conf *core.Config, loggerParam DBLoggerParam) *storage.Storage {
	store, err := storage.Open(context.Background(), conf, loggerParam.Logger)
	if err != nil {
		loggerParam.Logger.Fatal(fmt.Sprintf("setting up %s storage: %v", conf.Storage.Engine, err), err)
	}
	return store
}

func newUserService(store *storage.Storage) user.ServiceInterface {
	return user.NewService(store.Users)
}

func newChatService(store *storage.Storage, conf *core.Config) chat.ServiceInterface {
	return chat.NewService(store.Messages, conf)
}

func newValidator(translator ut.Translator) *validator.Validate {
	validate := validator.New()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)
	chat.InitValidators(validate, translator)
	return validate
}

func newHub(
	conf *core.Config,
	logger core.Logger,
	chatSvc chat.ServiceInterface,
	collector *metricsvc.Collector,
	validate *validator.Validate,
	translator ut.Translator,
) *realtime.Hub {
	return realtime.NewHub(realtime.HubDeps{
		Conf:       conf,
		Logger:     logger,
		ChatSvc:    chatSvc,
		Observer:   collector,
		Validate:   validate,
		Translator: translator,
	})
}

func newServer(p serverParams) *echoapi.Server {
	return echoapi.NewServer(echoapi.ServerDeps{
		Conf:       p.Conf,
		Logger:     p.Logger,
		UserSvc:    p.UserSvc,
		ChatSvc:    p.ChatSvc,
		Resolver:   p.Resolver,
		Hub:        p.Hub,
		Metrics:    p.Metrics,
		Storage:    p.Storage,
		Validate:   p.Validate,
		Translator: p.Translator,
	})
}

// New returns a new dependency injection dig.Container
func New() *dig.Container {
	c := dig.New()

	must(c.Provide(core.NewConfig))
	must(c.Provide(newLogger))
	must(c.Provide(newDBLogger, dig.Name("dbLogger")))
	must(c.Provide(newStorage))
	must(c.Provide(core.NewTranslator))
	must(c.Provide(newValidator))
	must(c.Provide(newUserService))
	must(c.Provide(newChatService))
	must(c.Provide(auth.NewTokenIssuer))
	must(c.Provide(auth.NewResolver))
	must(c.Provide(metricsvc.NewCollector))
	must(c.Provide(newHub))
	must(c.Provide(newServer))

	return c
}

// must exits program if err happened
func must(err error) {
	if err != nil {
		log.Fatal(errors.Wrap(err, "failed to provide dependency").Error())
	}
}
