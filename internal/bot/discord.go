package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"warden-bot/internal/storage"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const muteDeny = discordgo.PermissionSendMessages | discordgo.PermissionVoiceSpeak | discordgo.PermissionAddReactions

// Discord adapts a gateway session to the role, announcement and sanction
// lifting interfaces used by the leveling tracker and the expiry engine.
type Discord struct {
	session *discordgo.Session
	logger  *zap.Logger

	group   singleflight.Group
	mu      sync.Mutex
	created map[string]string
}

func NewSession(token string) (*discordgo.Session, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildBans | // bit 1<<2: Discord GUILD_MODERATION intent
		discordgo.IntentsMessageContent
	session.State.TrackRoles = true
	session.State.TrackMembers = true
	return session, nil
}

func NewDiscord(session *discordgo.Session, logger *zap.Logger) *Discord {
	return &Discord{session: session, logger: logger, created: make(map[string]string)}
}

func (d *Discord) HasRole(ctx context.Context, guildID, userID, roleName string) (bool, error) {
	roleID, err := d.findRole(ctx, guildID, roleName)
	if err != nil {
		return false, err
	}
	if roleID == "" {
		return false, nil
	}
	member, err := d.member(ctx, guildID, userID)
	if err != nil {
		return false, err
	}
	return hasRoleID(member.Roles, roleID), nil
}

// EnsureRole returns the id of the named role, creating it when missing.
// Concurrent callers for the same guild and name share one creation.
func (d *Discord) EnsureRole(ctx context.Context, guildID, roleName string, color int) (string, error) {
	key := guildID + ":" + strings.ToLower(roleName)
	v, err, _ := d.group.Do(key, func() (any, error) {
		roleID, err := d.findRole(ctx, guildID, roleName)
		if err != nil || roleID != "" {
			return roleID, err
		}
		role, err := d.session.GuildRoleCreate(guildID, &discordgo.RoleParams{
			Name:        roleName,
			Color:       &color,
			Hoist:       boolPtr(false),
			Mentionable: boolPtr(false),
		}, discordgo.WithContext(ctx))
		if err != nil {
			return "", err
		}
		d.mu.Lock()
		d.created[key] = role.ID
		d.mu.Unlock()
		d.logger.Info("role created", zap.String("guild_id", guildID), zap.String("role", roleName), zap.String("role_id", role.ID))
		return role.ID, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (d *Discord) GrantRole(ctx context.Context, guildID, userID, roleID string) error {
	return d.session.GuildMemberRoleAdd(guildID, userID, roleID, discordgo.WithContext(ctx))
}

func (d *Discord) Announce(ctx context.Context, channelID, text string) error {
	_, err := d.session.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Content: text,
		AllowedMentions: &discordgo.MessageAllowedMentions{
			Parse: []discordgo.AllowedMentionType{discordgo.AllowedMentionTypeUsers},
		},
	}, discordgo.WithContext(ctx))
	return err
}

// Lift reverses an expired sanction. A ban or member that is already gone
// counts as lifted.
func (d *Discord) Lift(ctx context.Context, sanction storage.Sanction) error {
	var err error
	switch sanction.Kind {
	case storage.SanctionBan:
		err = d.session.GuildBanDelete(sanction.GuildID, sanction.UserID, discordgo.WithContext(ctx))
		if isRESTCode(err, discordgo.ErrCodeUnknownBan) {
			err = nil
		}
	case storage.SanctionMute:
		err = d.session.GuildMemberRoleRemove(sanction.GuildID, sanction.UserID, sanction.RoleID, discordgo.WithContext(ctx))
		if isRESTCode(err, discordgo.ErrCodeUnknownMember) || isRESTCode(err, discordgo.ErrCodeUnknownRole) {
			err = nil
		}
	default:
		err = fmt.Errorf("unknown sanction kind %q", sanction.Kind)
	}
	return err
}

// EnsureMuteRole finds the mute role or creates it and denies speaking in
// every channel of the guild.
func (d *Discord) EnsureMuteRole(ctx context.Context, guildID, name string) (string, error) {
	roleID, err := d.findRole(ctx, guildID, name)
	if err != nil || roleID != "" {
		return roleID, err
	}
	roleID, err = d.EnsureRole(ctx, guildID, name, 0x95A5A6)
	if err != nil {
		return "", err
	}

	channels, err := d.session.GuildChannels(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return roleID, err
	}
	for _, channel := range channels {
		if err := d.session.ChannelPermissionSet(channel.ID, roleID, discordgo.PermissionOverwriteTypeRole, 0, muteDeny, discordgo.WithContext(ctx)); err != nil {
			d.logger.Warn("mute overwrite failed", zap.String("channel_id", channel.ID), zap.Error(err))
		}
	}
	return roleID, nil
}

func (d *Discord) findRole(ctx context.Context, guildID, roleName string) (string, error) {
	key := guildID + ":" + strings.ToLower(roleName)
	d.mu.Lock()
	id, ok := d.created[key]
	d.mu.Unlock()
	if ok {
		return id, nil
	}

	var roles []*discordgo.Role
	if guild, err := d.session.State.Guild(guildID); err == nil && len(guild.Roles) > 0 {
		roles = guild.Roles
	} else {
		roles, err = d.session.GuildRoles(guildID, discordgo.WithContext(ctx))
		if err != nil {
			return "", err
		}
	}
	return roleIDByName(roles, roleName), nil
}

func (d *Discord) member(ctx context.Context, guildID, userID string) (*discordgo.Member, error) {
	if member, err := d.session.State.Member(guildID, userID); err == nil {
		return member, nil
	}
	return d.session.GuildMember(guildID, userID, discordgo.WithContext(ctx))
}

func roleIDByName(roles []*discordgo.Role, name string) string {
	for _, role := range roles {
		if role != nil && role.Name == name {
			return role.ID
		}
	}
	return ""
}

func hasRoleID(roleIDs []string, roleID string) bool {
	for _, id := range roleIDs {
		if id == roleID {
			return true
		}
	}
	return false
}

func isRESTCode(err error, code int) bool {
	var restErr *discordgo.RESTError
	return errors.As(err, &restErr) && restErr.Message != nil && restErr.Message.Code == code
}

func boolPtr(v bool) *bool { return &v }
