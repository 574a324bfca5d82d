package config

import (
	"sort"

	"whisplayim/internal/domain"
)

// Resolve produces the effective account for id by layering the nested
// accounts.<id> override onto the top-level device fields. Fields absent
// from the override inherit the top-level value. Ids without a nested entry
// resolve to the top-level fields alone, which keeps legacy single-device
// configs working for any account id the host asks about.
func (c *Config) Resolve(id string) domain.Account {
	if id == "" {
		id = DefaultAccountID
	}

	acct := domain.Account{
		ID:      id,
		BaseURL: c.IP,
		Token:   c.Token,
		WaitSec: c.WaitSec,
		Emoji:   c.Emoji,
		Enabled: c.Enabled,
	}

	ov, ok := c.Accounts[id]
	if !ok {
		return acct
	}
	if ov.IP != nil {
		acct.BaseURL = *ov.IP
	}
	if ov.Token != nil {
		acct.Token = *ov.Token
	}
	if ov.WaitSec != nil {
		acct.WaitSec = *ov.WaitSec
	}
	if ov.Emoji != nil {
		acct.Emoji = *ov.Emoji
	}
	if ov.Enabled != nil {
		acct.Enabled = *ov.Enabled
	}
	return acct
}

// ListAccounts returns the nested account ids in sorted order, or the
// default id when the config carries only top-level fields.
func (c *Config) ListAccounts() []string {
	if len(c.Accounts) == 0 {
		return []string{DefaultAccountID}
	}
	ids := make([]string, 0, len(c.Accounts))
	for id := range c.Accounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
