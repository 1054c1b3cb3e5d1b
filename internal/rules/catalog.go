package rules

import "github.com/eliteGoblin/shieldscan/internal/domain"

func text(id, pattern string) domain.RuleString {
	return domain.RuleString{ID: id, Pattern: pattern, Kind: domain.StringText}
}

func hexString(id, pattern string) domain.RuleString {
	return domain.RuleString{ID: id, Pattern: pattern, Kind: domain.StringHex}
}

func regex(id, pattern string) domain.RuleString {
	return domain.RuleString{ID: id, Pattern: pattern, Kind: domain.StringRegex}
}

// DefaultCatalog returns the built-in rule set. Each call returns a fresh
// slice; the engine keeps its own copy.
func DefaultCatalog() []domain.Rule {
	return []domain.Rule{
		{
			Name:        "Mimikatz",
			Family:      "CredentialTheft",
			Severity:    domain.SeverityCritical,
			Description: "Credential dumping tool",
			Strings: []domain.RuleString{
				text("s1", "mimikatz"),
				text("s2", "sekurlsa::logonpasswords"),
				text("s3", "privilege::debug"),
			},
			Condition: domain.ConditionTwoOf,
		},
		{
			Name:        "CobaltStrike_Beacon",
			Family:      "Backdoor",
			Severity:    domain.SeverityCritical,
			Description: "Cobalt Strike beacon loader",
			Strings: []domain.RuleString{
				text("s1", "beacon.dll"),
				text("s2", "ReflectiveLoader"),
				text("s3", "%s as %s\\%s: %d"),
			},
			Condition: domain.ConditionTwoOf,
		},
		{
			Name:        "Meterpreter",
			Family:      "Backdoor",
			Severity:    domain.SeverityCritical,
			Description: "Metasploit Meterpreter payload",
			Strings: []domain.RuleString{
				text("s1", "metsrv"),
				text("s2", "stdapi_"),
				text("s3", "core_channel_open"),
			},
			Condition: domain.ConditionTwoOf,
		},
		{
			Name:        "Android_Banker_Overlay",
			Family:      "Banker",
			Severity:    domain.SeverityCritical,
			Description: "Accessibility-driven overlay attack against banking apps",
			Strings: []domain.RuleString{
				text("s1", "android.permission.BIND_ACCESSIBILITY_SERVICE"),
				text("s2", "TYPE_APPLICATION_OVERLAY"),
				regex("s3", `(?i)inject(s|ion)?_?(list|url|html)`),
				text("s4", "performGlobalAction"),
			},
			Condition: domain.ConditionThreeOf,
		},
		{
			Name:        "Android_SMS_Fraud",
			Family:      "SmsFraud",
			Severity:    domain.SeverityHigh,
			Description: "Silent premium SMS sending",
			Strings: []domain.RuleString{
				text("s1", "sendTextMessage"),
				text("s2", "abortBroadcast"),
				regex("s3", `(?i)premium_?(sms|number)`),
			},
			Condition: domain.ConditionAll,
		},
		{
			Name:        "Android_Root_Exploit",
			Family:      "Exploit",
			Severity:    domain.SeverityCritical,
			Description: "Known local privilege escalation exploit strings",
			Strings: []domain.RuleString{
				text("s1", "dirtycow"),
				text("s2", "/proc/self/mem"),
				text("s3", "madvise"),
				text("s4", "towelroot"),
			},
			Condition: domain.ConditionTwoOf,
		},
		{
			Name:        "Spyware_Keylogger",
			Family:      "Spyware",
			Severity:    domain.SeverityHigh,
			Description: "Keystroke capture with exfiltration",
			Strings: []domain.RuleString{
				text("s1", "keylogger"),
				regex("s2", `(?i)(upload|exfil)[a-z_]*keys?`),
				text("s3", "onKeyEvent"),
			},
			Condition: domain.ConditionTwoOf,
		},
		{
			Name:        "PowerShell_Encoded",
			Family:      "Dropper",
			Severity:    domain.SeverityHigh,
			Description: "Obfuscated PowerShell launcher",
			Strings: []domain.RuleString{
				text("s1", "-EncodedCommand"),
				text("s2", "FromBase64String"),
				regex("s3", `(?i)-e(nc)?\s+JAB`),
			},
			Condition: domain.ConditionTwoOf,
		},
		{
			Name:        "WebShell_Generic",
			Family:      "Backdoor",
			Severity:    domain.SeverityHigh,
			Description: "Web shell indicators",
			Strings: []domain.RuleString{
				text("s1", "c99shell"),
				text("s2", "r57shell"),
				regex("s3", `(?i)eval\s*\(\s*base64_decode`),
			},
			Condition: domain.ConditionAny,
		},
		{
			Name:        "Ransomware_Note",
			Family:      "Ransomware",
			Severity:    domain.SeverityCritical,
			Description: "Ransom note wording with payment channel",
			Strings: []domain.RuleString{
				text("s1", "your files have been encrypted"),
				text("s2", "bitcoin"),
				text("s3", ".onion"),
				text("s4", "decrypt"),
			},
			Condition: domain.ConditionThreeOf,
		},
		{
			Name:        "Elf_Miner",
			Family:      "CoinMiner",
			Severity:    domain.SeverityMedium,
			Description: "ELF binary bundling a stratum mining client",
			Strings: []domain.RuleString{
				hexString("s1", "7f 45 4c 46"),
				text("s2", "stratum+tcp://"),
			},
			Condition: domain.ConditionAll,
		},
		{
			Name:        "Adware_SDK_Aggressive",
			Family:      "Adware",
			Severity:    domain.SeverityLow,
			Description: "Aggressive ad SDK behaviour (lockscreen/out-of-app ads)",
			Strings: []domain.RuleString{
				regex("s1", `(?i)lock_?screen_?ads?`),
				regex("s2", `(?i)out_?of_?app_?ads?`),
				text("s3", "hideLauncherIcon"),
			},
			Condition: domain.ConditionTwoOf,
		},
	}
}
