package realtime

import (
	"context"
	"fmt"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/mpkschool/backend/core"
	"github.com/mpkschool/backend/core/chat"
)

const defaultStorageTimeout = 10 * time.Second

type HubDeps struct {
	Conf       *core.Config
	Logger     core.Logger
	ChatSvc    chat.ServiceInterface
	Registry   Registry
	Observer   Observer
	Validate   *validator.Validate
	Translator ut.Translator
}

// Hub owns the live sessions of the process: it connects and disconnects them
// and gives them access to the chat service and the router.
type Hub struct {
	registry   Registry
	router     *Router
	chat       chat.ServiceInterface
	logger     core.Logger
	observer   Observer
	validate   *validator.Validate
	translator ut.Translator

	sendRate       rate.Limit
	sendBurst      int
	storageTimeout time.Duration
}

func NewHub(deps HubDeps) *Hub {
	registry := deps.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	observer := deps.Observer
	if observer == nil {
		observer = nopObserver{}
	}

	hub := &Hub{
		registry:       registry,
		router:         NewRouter(registry, deps.Logger, observer),
		chat:           deps.ChatSvc,
		logger:         deps.Logger,
		observer:       observer,
		validate:       deps.Validate,
		translator:     deps.Translator,
		storageTimeout: defaultStorageTimeout,
	}
	if deps.Conf != nil {
		if deps.Conf.Chat.SendRate > 0 {
			hub.sendRate = rate.Limit(deps.Conf.Chat.SendRate)
			hub.sendBurst = deps.Conf.Chat.SendBurst
			if hub.sendBurst <= 0 {
				hub.sendBurst = 1
			}
		}
		if deps.Conf.Chat.StorageTimeout > 0 {
			hub.storageTimeout = deps.Conf.Chat.StorageTimeout
		}
	}
	return hub
}

func (h *Hub) Router() *Router {
	return h.router
}

func (h *Hub) Registry() Registry {
	return h.registry
}

// Sessions returns the live sessions, in no particular order.
func (h *Hub) Sessions() []*Session {
	return h.registry.Sessions()
}

// Connect opens the session of an authenticated identity.
// A previous session of the same identity is told it was replaced, then closed.
func (h *Hub) Connect(identity chat.Identity, conn Conn) *Session {
	s := newSession(h, identity, conn)
	h.observer.SessionOpened()

	if displaced := h.registry.Register(s); displaced != nil {
		displaced.push(OutEvent{Event: EventSessionReplaced, Data: messageRef{ID: s.ID}})
		if displaced.close() {
			h.observer.SessionClosed()
		}
		h.logger.Info(fmt.Sprintf("session %s replaced by %s", displaced.ID, s.ID), identity)
	}
	return s
}

// Disconnect destroys a session and forgets its joined rooms. Safe to call more than once.
func (h *Hub) Disconnect(s *Session) {
	h.registry.Unregister(s)
	if s.close() {
		h.observer.SessionClosed()
	}
}

// Shutdown disconnects every live session.
func (h *Hub) Shutdown() {
	for _, s := range h.registry.Sessions() {
		h.Disconnect(s)
	}
}

// StorageContext returns a context that survives the requester going away, so that writes
// already submitted to storage run to completion. It is bounded by the storage timeout.
func (h *Hub) StorageContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), h.storageTimeout)
}

// errorData maps an error to the payload sent back to the client.
func (h *Hub) errorData(err error) ErrorData {
	var (
		vErrs  validator.ValidationErrors
		valErr *core.ValidationError
		nfErr  *core.NotFoundError
	)

	switch {
	case errors.As(err, &vErrs):
		fields := core.TranslateValidationErrors(vErrs, h.translator)
		return ErrorData{Code: CodeValidation, Message: "invalid data", Fields: fields}
	case errors.As(err, &valErr):
		return ErrorData{Code: CodeValidation, Message: valErr.Error(), Fields: valErr.FieldErrors()}
	case errors.Is(err, core.ErrUnauthenticated):
		return ErrorData{Code: CodeUnauthenticated, Message: core.ErrUnauthenticated.Error()}
	case errors.Is(err, core.ErrForbidden):
		return ErrorData{Code: CodeForbidden, Message: core.ErrForbidden.Error()}
	case errors.As(err, &nfErr):
		return ErrorData{Code: CodeNotFound, Message: nfErr.Error()}
	case core.IsStorageError(err):
		return ErrorData{Code: CodeStorageUnavailable, Message: "storage unavailable, please retry", Retryable: true}
	case errors.Is(err, errRateLimited):
		return ErrorData{Code: CodeRateLimited, Message: errRateLimited.Error(), Retryable: true}
	}
	return ErrorData{Code: CodeInternal, Message: "internal error"}
}
