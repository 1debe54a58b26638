package models

import "strings"

// Tier is the subscription level that bounds a user's engine.
type Tier string

const (
	TierBasic      Tier = "basic"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

// ParseTier maps unknown values to basic.
func ParseTier(s string) Tier {
	switch Tier(strings.ToLower(strings.TrimSpace(s))) {
	case TierPro:
		return TierPro
	case TierEnterprise:
		return TierEnterprise
	default:
		return TierBasic
	}
}

// Credentials are the venue API keys linked by the user (wallet connect).
type Credentials struct {
	APIKey     string `json:"api_key"`
	APISecret  string `json:"api_secret"`
	Passphrase string `json:"passphrase"`
}

func (c Credentials) Linked() bool {
	return c.APIKey != "" && c.APISecret != ""
}

// BotUser is everything the supervisor needs to decide whether a user runs.
type BotUser struct {
	UserID      int64         `json:"user_id"`
	Tier        Tier          `json:"tier"`
	Config      UserBotConfig `json:"config"`
	Credentials Credentials   `json:"-"`
	ChatID      int64         `json:"chat_id"` // telegram chat, 0 if not linked
}

func (u BotUser) WalletLinked() bool       { return u.Credentials.Linked() }
func (u BotUser) NotificationLinked() bool { return u.ChatID != 0 }
