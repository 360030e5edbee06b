package referrer

import (
	"net/url"
	"strings"

	"github.com/samber/lo"
)

const (
	MediumOrganic  = "organic"
	MediumReferral = "referral"

	SourceDirect = "Direct"
)

// Traffic describes where a click came from. Source is always set;
// Medium and Campaign may be empty.
type Traffic struct {
	Source   string
	Medium   string
	Campaign string
}

type platform struct {
	domain string
	label  string
	medium string
}

// Ordered: more specific domains (t.co, wa.me) before generic ones, search
// engines grouped at the end. First match wins.
var platforms = []platform{
	{"instagram.com", "Instagram", MediumReferral},
	{"facebook.com", "Facebook", MediumReferral},
	{"fb.com", "Facebook", MediumReferral},
	{"m.me", "Facebook Messenger", MediumReferral},
	{"t.co", "Twitter/X", MediumReferral},
	{"twitter.com", "Twitter/X", MediumReferral},
	{"x.com", "Twitter/X", MediumReferral},
	{"linkedin.com", "LinkedIn", MediumReferral},
	{"lnkd.in", "LinkedIn", MediumReferral},
	{"youtube.com", "YouTube", MediumReferral},
	{"youtu.be", "YouTube", MediumReferral},
	{"tiktok.com", "TikTok", MediumReferral},
	{"pinterest.com", "Pinterest", MediumReferral},
	{"reddit.com", "Reddit", MediumReferral},
	{"t.me", "Telegram", MediumReferral},
	{"telegram.org", "Telegram", MediumReferral},
	{"wa.me", "WhatsApp", MediumReferral},
	{"whatsapp.com", "WhatsApp", MediumReferral},
	{"discord.com", "Discord", MediumReferral},
	{"discord.gg", "Discord", MediumReferral},
	{"snapchat.com", "Snapchat", MediumReferral},
	{"github.com", "GitHub", MediumReferral},
	{"google.com", "Google Search", MediumOrganic},
	{"bing.com", "Bing", MediumOrganic},
	{"duckduckgo.com", "DuckDuckGo", MediumOrganic},
	{"search.yahoo.com", "Yahoo Search", MediumOrganic},
	{"yahoo.com", "Yahoo Search", MediumOrganic},
	{"yandex.com", "Yandex", MediumOrganic},
	{"yandex.ru", "Yandex", MediumOrganic},
	{"baidu.com", "Baidu", MediumOrganic},
	{"ecosia.org", "Ecosia", MediumOrganic},
	{"startpage.com", "Startpage", MediumOrganic},
}

// Classify maps UTM parameters or the referer header to a traffic source.
// An explicit utm_source wins outright over the header.
func Classify(utmSource, utmMedium, utmCampaign, refererHeader string) Traffic {
	if utmSource != "" {
		return Traffic{
			Source:   utmSource,
			Medium:   utmMedium,
			Campaign: utmCampaign,
		}
	}

	host := refererHost(refererHeader)
	if host == "" {
		return Traffic{Source: SourceDirect}
	}

	if p, ok := matchPlatform(host); ok {
		return Traffic{Source: p.label, Medium: p.medium}
	}

	return Traffic{Source: baseDomain(host), Medium: MediumReferral}
}

func matchPlatform(host string) (platform, bool) {
	return lo.Find(platforms, func(p platform) bool {
		return host == p.domain || strings.HasSuffix(host, "."+p.domain)
	})
}

func refererHost(referer string) string {
	if referer == "" {
		return ""
	}

	u, err := url.Parse(referer)
	if err != nil {
		return ""
	}

	host := strings.ToLower(u.Hostname())
	host = strings.TrimPrefix(host, "www.")
	return host
}

// baseDomain reduces a host to its last two DNS labels, e.g.
// "blog.example.co" -> "example.co".
func baseDomain(host string) string {
	labels := strings.Split(host, ".")
	if len(labels) <= 2 {
		return host
	}
	return strings.Join(labels[len(labels)-2:], ".")
}

// Label renders a single display string for the analytics rollup.
// The campaign wins over the medium; a plain referral needs no suffix.
func (t Traffic) Label() string {
	if t.Campaign != "" {
		return t.Source + " (" + t.Campaign + ")"
	}
	if t.Medium != "" && t.Medium != MediumReferral {
		return t.Source + " (" + t.Medium + ")"
	}
	return t.Source
}
