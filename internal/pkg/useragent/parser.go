package useragent

import (
	"strings"
)

// Family User-Agent 大类
const (
	FamilyBot     = "Bot"
	FamilyCLI     = "CLI"
	FamilyBrowser = "Browser"
	FamilyUnknown = "Unknown"
)

// BotSignatures 爬虫特征 (小写子串匹配)
var BotSignatures = []string{
	"bot",
	"crawler",
	"spider",
	"headless",
	"puppeteer",
	"playwright",
	"slurp",
	"bingpreview",
	"facebookexternalhit",
	"embedly",
	"ia_archiver",
	"semrush",
	"ahrefs",
	"yandex",
	"baiduspider",
	"duckduckgo",
	"lighthouse",
}

var cliSignatures = []string{
	"curl/",
	"wget/",
	"httpie/",
	"python-requests",
	"python-urllib",
	"go-http-client",
	"okhttp",
	"axios/",
	"node-fetch",
	"postmanruntime",
}

var browserSignatures = []string{
	"mozilla/",
	"safari/",
	"chrome/",
	"firefox/",
	"edg/",
}

// IsBot 判断是否为爬虫 (大小写不敏感)
func IsBot(userAgent string) bool {
	if userAgent == "" {
		return false
	}
	return containsAny(strings.ToLower(userAgent), BotSignatures)
}

// ParseFamily 从 User-Agent 解析大类
func ParseFamily(userAgent string) string {
	if userAgent == "" {
		return FamilyUnknown
	}

	ua := strings.ToLower(userAgent)

	// 爬虫优先: 许多爬虫也带 Mozilla 前缀
	if containsAny(ua, BotSignatures) {
		return FamilyBot
	}
	if containsAny(ua, cliSignatures) {
		return FamilyCLI
	}
	if containsAny(ua, browserSignatures) {
		return FamilyBrowser
	}
	return FamilyUnknown
}

func containsAny(ua string, signatures []string) bool {
	for _, sig := range signatures {
		if strings.Contains(ua, sig) {
			return true
		}
	}
	return false
}
