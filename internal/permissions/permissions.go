package permissions

import (
	"strings"

	"warden-bot/internal/config"
)

type Level int

const (
	User Level = iota
	Moderator
	Admin
	Owner
)

func (l Level) String() string {
	switch l {
	case Owner:
		return "OWNER"
	case Admin:
		return "ADMIN"
	case Moderator:
		return "MODERATOR"
	default:
		return "USER"
	}
}

// Actor is the invoking member as seen by a command handler.
type Actor struct {
	UserID        string
	Username      string
	Tag           string
	RoleIDs       []string
	Administrator bool
}

type Checker struct {
	authorizedUser string
	owners         map[string]struct{}
	admins         map[string]struct{}
	moderators     map[string]struct{}
}

func New(cfg config.PermissionsConfig) *Checker {
	return &Checker{
		authorizedUser: strings.TrimSpace(cfg.AuthorizedUser),
		owners:         toSet(cfg.OwnerIDs),
		admins:         toSet(cfg.AdminRoleIDs),
		moderators:     toSet(cfg.ModeratorRoleIDs),
	}
}

func (c *Checker) LevelOf(actor Actor) Level {
	// names are matched exactly
	if c.authorizedUser != "" && (actor.Username == c.authorizedUser || actor.Tag == c.authorizedUser) {
		return Owner
	}
	if _, ok := c.owners[actor.UserID]; ok {
		return Owner
	}
	if actor.Administrator || hasAny(actor.RoleIDs, c.admins) {
		return Admin
	}
	if hasAny(actor.RoleIDs, c.moderators) {
		return Moderator
	}
	return User
}

func (c *Checker) Check(actor Actor, required Level) bool {
	return c.LevelOf(actor) >= required
}

func hasAny(roleIDs []string, set map[string]struct{}) bool {
	for _, id := range roleIDs {
		if _, ok := set[id]; ok {
			return true
		}
	}
	return false
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, value := range values {
		if value = strings.TrimSpace(value); value != "" {
			set[value] = struct{}{}
		}
	}
	return set
}
