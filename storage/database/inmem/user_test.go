package inmemdb

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mpkschool/backend/core"
	"github.com/mpkschool/backend/core/user"
	"github.com/mpkschool/backend/tests"
)

func TestUserRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepository(Open())

	now := time.Now().UTC()
	ann := testutil.CreateUser(t, repo, "Ann", "ann@test.test", "", []string{user.RoleTeacher}, true, now)
	bob := testutil.CreateUser(t, repo, "Bob", "bob@test.test", "", []string{user.RoleStudent}, true, now.Add(time.Second))
	_ = testutil.CreateUser(t, repo, "Cid", "cid@test.test", "", []string{user.RoleStudent}, false, now.Add(2*time.Second))

	t.Run("email uniqueness", func(t *testing.T) {
		assert.Equal(t, user.ErrEmailExists, repo.CheckEmailUniqueness(ctx, "ann@test.test"))
		assert.NoError(t, repo.CheckEmailUniqueness(ctx, "ann@test.test", ann.ID))
		assert.NoError(t, repo.CheckEmailUniqueness(ctx, "new@test.test"))
	})

	t.Run("get", func(t *testing.T) {
		got, err := repo.GetUser(ctx, user.GetFilter{ID: bob.ID})
		assert.NoError(t, err)
		assert.Equal(t, "Bob", got.Name)

		got, err = repo.GetUser(ctx, user.GetFilter{Email: "bob@test.test"})
		assert.NoError(t, err)
		assert.Equal(t, bob.ID, got.ID)

		_, err = repo.GetUser(ctx, user.GetFilter{ID: "nope"})
		assert.Equal(t, user.ErrNotFound, err)
	})

	t.Run("query", func(t *testing.T) {
		active := true
		tests := []struct {
			name   string
			filter *user.QueryFilter
			order  []core.DBOrdering
			want   []string
		}{
			{name: "all", want: []string{"Ann", "Bob", "Cid"}},
			{name: "desc", order: []core.DBOrdering{{Field: "created_at"}}, want: []string{"Cid", "Bob", "Ann"}},
			{name: "search", filter: &user.QueryFilter{Search: "BOB"}, want: []string{"Bob"}},
			{name: "roles", filter: &user.QueryFilter{Roles: []string{user.RoleStudent}}, want: []string{"Bob", "Cid"}},
			{name: "active students", filter: &user.QueryFilter{Roles: []string{user.RoleStudent}, IsActive: &active}, want: []string{"Bob"}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				users, err := repo.QueryUsers(ctx, tt.filter, tt.order)
				assert.NoError(t, err)
				names := make([]string, 0, len(users))
				for _, usr := range users {
					names = append(names, usr.Name)
				}
				assert.Equal(t, tt.want, names)
			})
		}
	})

	t.Run("update", func(t *testing.T) {
		bob.Name = "Bobby"
		_, err := repo.UpdateUser(ctx, bob)
		assert.NoError(t, err)

		got, err := repo.GetUser(ctx, user.GetFilter{ID: bob.ID})
		assert.NoError(t, err)
		assert.Equal(t, "Bobby", got.Name)

		_, err = repo.UpdateUser(ctx, user.User{ID: "nope"})
		assert.Equal(t, user.ErrNotFound, err)
	})
}
