package useragent

import "testing"

func TestIsBot(t *testing.T) {
	tests := []struct {
		name string
		ua   string
		want bool
	}{
		{"Googlebot", "Googlebot/2.1 (+http://www.google.com/bot.html)", true},
		{"大写 Googlebot", "GOOGLEBOT/2.1", true},
		{"Headless Chrome", "Mozilla/5.0 HeadlessChrome/120.0", true},
		{"Facebook 抓取", "facebookexternalhit/1.1", true},
		{"普通 Safari", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7)", false},
		{"curl", "curl/8.4.0", false},
		{"空字符串", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsBot(tt.ua); got != tt.want {
				t.Errorf("IsBot(%q) = %v, want %v", tt.ua, got, tt.want)
			}
		})
	}
}

func TestParseFamily(t *testing.T) {
	tests := []struct {
		ua   string
		want string
	}{
		{"Mozilla/5.0 (compatible; bingbot/2.0)", FamilyBot},
		{"curl/8.4.0", FamilyCLI},
		{"python-requests/2.31", FamilyCLI},
		{"Mozilla/5.0 (X11; Linux x86_64) Firefox/121.0", FamilyBrowser},
		{"SomethingElse/1.0", FamilyUnknown},
		{"", FamilyUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.ua, func(t *testing.T) {
			if got := ParseFamily(tt.ua); got != tt.want {
				t.Errorf("ParseFamily(%q) = %v, want %v", tt.ua, got, tt.want)
			}
		})
	}
}
