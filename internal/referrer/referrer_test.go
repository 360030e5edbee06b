package referrer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify_UTMWinsOverReferer(t *testing.T) {
	traffic := Classify("newsletter", "email", "spring", "https://www.google.com/search?q=x")

	assert.Equal(t, "newsletter", traffic.Source)
	assert.Equal(t, "email", traffic.Medium)
	assert.Equal(t, "spring", traffic.Campaign)
}

func TestClassify_KnownPlatforms(t *testing.T) {
	tests := []struct {
		name    string
		referer string
		source  string
		medium  string
	}{
		{"instagram", "https://www.instagram.com/p/x", "Instagram", MediumReferral},
		{"instagram mobile", "https://l.instagram.com/", "Instagram", MediumReferral},
		{"google search", "https://www.google.com/search?q=x", "Google Search", MediumOrganic},
		{"bing", "https://www.bing.com/search?q=x", "Bing", MediumOrganic},
		{"twitter shortener", "https://t.co/abc", "Twitter/X", MediumReferral},
		{"telegram", "https://t.me/mychannel", "Telegram", MediumReferral},
		{"youtube short domain", "https://youtu.be/xyz", "YouTube", MediumReferral},
		{"reddit", "https://old.reddit.com/r/golang", "Reddit", MediumReferral},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			traffic := Classify("", "", "", tt.referer)
			assert.Equal(t, tt.source, traffic.Source)
			assert.Equal(t, tt.medium, traffic.Medium)
		})
	}
}

func TestClassify_UnknownHostFallsBackToBaseDomain(t *testing.T) {
	traffic := Classify("", "", "", "https://blog.somesite.io/post/42")

	assert.Equal(t, "somesite.io", traffic.Source)
	assert.Equal(t, MediumReferral, traffic.Medium)
}

func TestClassify_StripsWWW(t *testing.T) {
	traffic := Classify("", "", "", "https://www.example.com/page")

	assert.Equal(t, "example.com", traffic.Source)
}

func TestClassify_NoRefererNoUTM(t *testing.T) {
	traffic := Classify("", "", "", "")

	assert.Equal(t, SourceDirect, traffic.Source)
	assert.Empty(t, traffic.Medium)
	assert.Empty(t, traffic.Campaign)
}

func TestClassify_GarbageRefererIsDirect(t *testing.T) {
	traffic := Classify("", "", "", "::not a url::")

	assert.Equal(t, SourceDirect, traffic.Source)
}

func TestLabel(t *testing.T) {
	tests := []struct {
		name    string
		traffic Traffic
		want    string
	}{
		{"campaign wins", Traffic{Source: "newsletter", Medium: "email", Campaign: "spring"}, "newsletter (spring)"},
		{"non-referral medium shown", Traffic{Source: "Google Search", Medium: MediumOrganic}, "Google Search (organic)"},
		{"referral medium hidden", Traffic{Source: "Instagram", Medium: MediumReferral}, "Instagram"},
		{"direct", Traffic{Source: SourceDirect}, "Direct"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.traffic.Label())
		})
	}
}
