package chat

import "github.com/mpkschool/backend/core/user"

// Identity is the verified caller behind a request or a live session.
type Identity struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Email  string   `json:"email"`
	Avatar string   `json:"avatar_url"`
	Roles  []string `json:"roles"`
}

func IdentityOf(usr user.User) Identity {
	return Identity{
		ID:     usr.ID,
		Name:   usr.Name,
		Email:  usr.Email,
		Avatar: usr.AvatarURL,
		Roles:  usr.Roles,
	}
}

func (id Identity) IsAdmin() bool {
	return user.HasRolePrefix(id.Roles, user.RoleAdmin)
}

// IsElevated reports whether the identity may moderate other users' messages:
// teachers and every role ranked above them.
func (id Identity) IsElevated() bool {
	return user.MaxRolePriority(id.Roles) >= user.RolePriority(user.RoleTeacher)
}

func (id Identity) sender() Sender {
	return Sender{ID: id.ID, Name: id.Name, Email: id.Email, Avatar: id.Avatar}
}
