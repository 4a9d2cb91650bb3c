package echoapi

import (
	"net/http"
	"sort"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/mpkschool/backend/core/realtime"
)

// adminMiddleware only lets identities holding an admin role through. Must run after jwtMiddleware.
func adminMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		if contextIdentity(ctx).IsAdmin() {
			return next(ctx)
		}
		return errHttpForbidden
	}
}

type SessionInfo struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	Rooms     []string  `json:"rooms"`
	CreatedAt time.Time `json:"created_at"`
}

func registerSessionAPI(g *echo.Group, jwt echo.MiddlewareFunc, hub *realtime.Hub) {
	g.GET("/sessions", func(ctx echo.Context) error {
		sessions := hub.Sessions()
		infos := make([]SessionInfo, 0, len(sessions))
		for _, s := range sessions {
			infos = append(infos, SessionInfo{
				ID:        s.ID,
				UserID:    s.Identity.ID,
				Name:      s.Identity.Name,
				Rooms:     s.Rooms(),
				CreatedAt: s.CreatedAt,
			})
		}
		sort.Slice(infos, func(i, j int) bool {
			return infos[i].CreatedAt.Before(infos[j].CreatedAt)
		})
		return ctx.JSON(http.StatusOK, infos)
	}, jwt, adminMiddleware)
}
