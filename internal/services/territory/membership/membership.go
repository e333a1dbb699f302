// Package membership defines the guild roster contract the territory engine
// consults for authorization and guild-size checks. Production deployments
// back this with the guild service; the static adapter serves development
// and tests from a YAML roster file.
package membership

import "context"

// Service answers roster questions about guilds. An unknown guild is not an
// error: it simply has no officers and no members.
type Service interface {
	// IsOfficer reports whether the player may act for the guild in
	// territory matters (leaders count as officers).
	IsOfficer(ctx context.Context, guildID, username string) (bool, error)
	// ActiveMemberCount returns the guild's active member count.
	ActiveMemberCount(ctx context.Context, guildID string) (int, error)
}
