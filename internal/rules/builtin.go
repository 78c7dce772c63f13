package rules

import "github.com/opensource-finance/kestrel/internal/domain"

// Rule IDs of the baseline set.
const (
	RuleNewCountryLogin    = "rule-new-country-login"
	RuleFastAddressBook    = "rule-fast-address-book"
	RuleDownloadThenSpam   = "rule-download-then-message"
	RuleMessageBurst       = "rule-message-burst"
	RuleMessageFanout      = "rule-message-fanout"
	RuleHostingIPs         = "rule-hosting-ips"
	RuleSharedHostingIP    = "rule-shared-hosting-ip"
	RuleFailedLogins       = "rule-failed-logins"
	RuleScriptAgent        = "rule-script-agent"
	RuleYoungThinAccount   = "rule-young-thin-account"
	RuleQuickClose         = "rule-quick-close"
	RuleActivityBurst      = "rule-activity-burst"
	defaultRuleVersion     = "1.0.0"
	defaultTypologyVersion = "1.0.0"
)

func limit(v float64) *float64 { return &v }

// flagBands maps a boolean rule to outcome when true and pass otherwise.
func flagBands(outcome, reason string) []domain.RuleBand {
	return []domain.RuleBand{
		{UpperLimit: limit(1), SubRuleRef: domain.RuleOutcomePass, Reason: "not observed"},
		{LowerLimit: limit(1), SubRuleRef: outcome, Reason: reason},
	}
}

// levelBands maps a [0,1] level to pass, review from 0.5 and fail from 0.8.
func levelBands(reason string) []domain.RuleBand {
	return []domain.RuleBand{
		{UpperLimit: limit(0.5), SubRuleRef: domain.RuleOutcomePass, Reason: "within normal range"},
		{LowerLimit: limit(0.5), UpperLimit: limit(0.8), SubRuleRef: domain.RuleOutcomeReview, Reason: reason},
		{LowerLimit: limit(0.8), SubRuleRef: domain.RuleOutcomeFail, Reason: reason},
	}
}

// DefaultRules returns the baseline rule set seeded into an empty store.
// Each rule reads the extracted feature vector only.
func DefaultRules() []*domain.RuleConfig {
	rule := func(id, name, expr string, weight float64, bands []domain.RuleBand) *domain.RuleConfig {
		return &domain.RuleConfig{
			ID: id, Name: name, Version: defaultRuleVersion,
			Expression: expr, Bands: bands, Weight: weight, Enabled: true,
		}
	}
	return []*domain.RuleConfig{
		rule(RuleNewCountryLogin, "Activity from an unusual country",
			`ip_country_mismatch > 0.0`, 1,
			flagBands(domain.RuleOutcomeReview, "latest activity comes from a country the account rarely uses")),
		rule(RuleFastAddressBook, "Address book pulled right after login",
			`download_address_book_count > 0.0 && login_to_download_minutes < 10.0`, 1.5,
			flagBands(domain.RuleOutcomeFail, "address book downloaded within minutes of the first login")),
		rule(RuleDownloadThenSpam, "Messaging right after an address book download",
			`download_address_book_count > 0.0 && messages_last_24h > 0.0 && download_to_first_message_minutes < 30.0`, 1.5,
			flagBands(domain.RuleOutcomeFail, "messages sent shortly after harvesting contacts")),
		rule(RuleMessageBurst, "Message burst",
			`messages_last_24h >= 100.0 ? 1.0 : messages_last_24h / 100.0`, 1,
			levelBands("unusually many messages in the last 24 hours")),
		rule(RuleMessageFanout, "Message fan-out",
			`unique_targets_messaged_last_24h >= 40.0 ? 1.0 : unique_targets_messaged_last_24h / 40.0`, 1,
			levelBands("messages spread over many distinct recipients")),
		rule(RuleHostingIPs, "Hosting infrastructure",
			`ratio_hosting_ips`, 0.5,
			levelBands("most activity comes from hosting provider addresses")),
		rule(RuleSharedHostingIP, "Shared hosting address",
			`same_ip_shared_with_others > 0.0 && ratio_hosting_ips > 0.0`, 1,
			flagBands(domain.RuleOutcomeReview, "a hosting address is shared with other accounts")),
		rule(RuleFailedLogins, "Repeated login failures",
			`login_failures_before_success >= 5.0 || failed_login_streak >= 5.0`, 1,
			flagBands(domain.RuleOutcomeFail, "many failed logins around the first success")),
		rule(RuleScriptAgent, "Automation client",
			`script_user_agent > 0.0`, 0.5,
			flagBands(domain.RuleOutcomeReview, "requests made by a scripted client")),
		rule(RuleYoungThinAccount, "Young, sparse account",
			`account_age_days < 2.0 && profile_completeness < 0.5 && connections_count < 5.0`, 0.5,
			flagBands(domain.RuleOutcomeReview, "new account with an almost empty profile")),
		rule(RuleQuickClose, "Closed soon after login",
			`first_login_to_close_hours > 0.0 && first_login_to_close_hours < 24.0`, 1,
			flagBands(domain.RuleOutcomeReview, "account closed within a day of its first login")),
		rule(RuleActivityBurst, "Activity burst",
			`interactions_last_1h >= 60.0 || velocity_count >= 500`, 0.5,
			flagBands(domain.RuleOutcomeReview, "activity rate far above a human pace")),
	}
}
