package rules

import "github.com/opensource-finance/kestrel/internal/domain"

// DefaultTypologies returns the baseline typologies over DefaultRules.
func DefaultTypologies() []*domain.Typology {
	typology := func(id, name, desc string, threshold float64, rules ...domain.TypologyRuleWeight) *domain.Typology {
		return &domain.Typology{
			ID: id, Name: name, Description: desc, Version: defaultTypologyVersion,
			Rules: rules, AlertThreshold: threshold, Enabled: true,
		}
	}
	w := func(id string, weight float64) domain.TypologyRuleWeight {
		return domain.TypologyRuleWeight{RuleID: id, Weight: weight}
	}
	return []*domain.Typology{
		typology(domain.TypologyAccountTakeover, "Account Takeover",
			"login from a new place, contacts harvested, then outreach", 0.6,
			w(RuleNewCountryLogin, 0.3), w(RuleFastAddressBook, 0.35), w(RuleDownloadThenSpam, 0.35)),
		typology(domain.TypologySpamBurst, "Spam Burst",
			"high-volume messaging to many recipients", 0.6,
			w(RuleMessageBurst, 0.4), w(RuleMessageFanout, 0.4), w(RuleYoungThinAccount, 0.2)),
		typology(domain.TypologyCoordinatedRing, "Coordinated Ring",
			"accounts sharing hosting infrastructure and automation", 0.6,
			w(RuleSharedHostingIP, 0.4), w(RuleHostingIPs, 0.3), w(RuleScriptAgent, 0.3)),
		typology(domain.TypologyCredentialAttack, "Credential Attack",
			"guessing or stuffing passwords from automated infrastructure", 0.6,
			w(RuleFailedLogins, 0.6), w(RuleHostingIPs, 0.2), w(RuleScriptAgent, 0.2)),
	}
}
