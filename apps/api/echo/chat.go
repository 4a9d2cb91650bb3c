package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/mpkschool/backend/core/chat"
	"github.com/mpkschool/backend/core/realtime"
)

type chatApi struct {
	svc      chat.ServiceInterface
	hub      *realtime.Hub
	validate *validator.Validate
}

func registerChatAPI(
	g *echo.Group,
	jwt echo.MiddlewareFunc,
	svc chat.ServiceInterface,
	hub *realtime.Hub,
	validate *validator.Validate,
) {
	api := chatApi{
		svc:      svc,
		hub:      hub,
		validate: validate,
	}

	mg := g.Group("/messages", jwt)
	mg.GET("", api.history)
	mg.POST("", api.send)
	mg.GET("/unread", api.unread)
	mg.POST("/mark-read", api.markRead)
	mg.PUT("/deleteForMe/:id", api.deleteForMe)
	mg.DELETE("/:id", api.destroy)
}

// Handlers

func (api *chatApi) history(ctx echo.Context) error {
	var q chat.HistoryQuery
	if err := ctx.Bind(&q); err != nil {
		return errors.Wrap(err, "binding to HistoryQuery")
	}
	if err := q.Validate(api.validate); err != nil {
		return err
	}

	page, err := api.svc.History(ctx.Request().Context(), contextIdentity(ctx), q)
	if err != nil {
		return errors.Wrap(err, "reading history")
	}
	return ctx.JSON(http.StatusOK, page)
}

// send posts a message outside of the websocket; the live audience still gets it.
func (api *chatApi) send(ctx echo.Context) error {
	var cmd chat.SendMessageCommand
	if err := ctx.Bind(&cmd); err != nil {
		return errors.Wrap(err, "binding to SendMessageCommand")
	}
	if err := cmd.Validate(api.validate); err != nil {
		return err
	}

	sctx, cancel := api.hub.StorageContext(ctx.Request().Context())
	defer cancel()

	msg, err := api.svc.Append(sctx, contextIdentity(ctx), cmd)
	if err != nil {
		return errors.Wrap(err, "sending message")
	}
	api.hub.Router().DeliverMessage(msg, nil, "")
	return ctx.JSON(http.StatusCreated, msg)
}

func (api *chatApi) deleteForMe(ctx echo.Context) error {
	identity := contextIdentity(ctx)
	id := ctx.Param("id")

	sctx, cancel := api.hub.StorageContext(ctx.Request().Context())
	defer cancel()

	if err := api.svc.SoftDeleteFor(sctx, id, identity); err != nil {
		return errors.Wrap(err, "hiding message")
	}
	api.hub.Router().DeliverHidden(identity.ID, id)
	return ctx.JSON(http.StatusOK, MessageRefResponse{ID: id})
}

func (api *chatApi) destroy(ctx echo.Context) error {
	sctx, cancel := api.hub.StorageContext(ctx.Request().Context())
	defer cancel()

	msg, err := api.svc.HardDelete(sctx, ctx.Param("id"), contextIdentity(ctx))
	if err != nil {
		return errors.Wrap(err, "deleting message")
	}
	api.hub.Router().DeliverDeletion(msg, nil, "")
	return ctx.NoContent(http.StatusNoContent)
}

func (api *chatApi) unread(ctx echo.Context) error {
	counts, err := api.svc.UnreadCounts(ctx.Request().Context(), contextIdentity(ctx))
	if err != nil {
		return errors.Wrap(err, "counting unread messages")
	}
	return ctx.JSON(http.StatusOK, counts)
}

func (api *chatApi) markRead(ctx echo.Context) error {
	var cmd chat.MarkReadCommand
	if err := ctx.Bind(&cmd); err != nil {
		return errors.Wrap(err, "binding to MarkReadCommand")
	}
	if err := cmd.Validate(api.validate); err != nil {
		return err
	}

	sctx, cancel := api.hub.StorageContext(ctx.Request().Context())
	defer cancel()

	n, err := api.svc.MarkRead(sctx, contextIdentity(ctx), cmd)
	if err != nil {
		return errors.Wrap(err, "marking messages as read")
	}
	return ctx.JSON(http.StatusOK, MarkReadResponse{Marked: n})
}
