package filter

import "regexp"

// botUserAgentSubstrings are matched case-insensitively against the user agent.
var botUserAgentSubstrings = []string{
	"bot",
	"crawler",
	"spider",
	"scraper",
	"crawling",
	"googlebot",
	"bingbot",
	"slurp",
	"duckduckbot",
	"baiduspider",
	"yandex",
	"sogou",
	"exabot",
	"facebookexternalhit",
	"facebot",
	"ia_archiver",
	"applebot",
	"semrush",
	"ahrefs",
	"mj12bot",
	"petalbot",
	"headlesschrome",
	"phantomjs",
	"slimerjs",
	"selenium",
	"webdriver",
	"puppeteer",
	"playwright",
	"cypress",
	"lighthouse",
	"pagespeed",
	"gtmetrix",
	"pingdom",
	"uptimerobot",
	"statuscake",
	"datadog synthetics",
	"curl/",
	"wget/",
	"python-requests",
	"python-urllib",
	"go-http-client",
	"java/",
	"okhttp",
	"axios/",
	"node-fetch",
	"postmanruntime",
	"insomnia",
}

// headlessGlobals are injected by headless engines.
var headlessGlobals = []string{
	"callPhantom",
	"_phantom",
	"phantom",
	"__nightmare",
	"domAutomation",
	"domAutomationController",
}

// automationGlobals are injected by automation frameworks and drivers.
var automationGlobals = []string{
	"__webdriver_evaluate",
	"__selenium_evaluate",
	"__webdriver_script_function",
	"__webdriver_script_func",
	"__webdriver_script_fn",
	"__fxdriver_evaluate",
	"__driver_unwrapped",
	"__webdriver_unwrapped",
	"__driver_evaluate",
	"__selenium_unwrapped",
	"__fxdriver_unwrapped",
	"_Selenium_IDE_Recorder",
	"_selenium",
	"calledSelenium",
	"$cdc_asdjflasutopfhvcZLmcfl_",
	"__playwright__binding__",
	"__pwInitScripts",
	"__puppeteer_evaluation_script__",
	"Cypress",
}

// browserRuntimeGlobal is present in every non-headless Chromium browser.
const browserRuntimeGlobal = "chrome"

// noiseURLPatterns match static assets and well-known infrastructure paths.
var noiseURLPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\.(css|js|mjs|map|png|jpe?g|gif|svg|ico|webp|avif|bmp|woff2?|ttf|otf|eot)(\?|#|$)`),
	regexp.MustCompile(`(?i)favicon`),
	regexp.MustCompile(`(?i)manifest\.(json|webmanifest)`),
	regexp.MustCompile(`(?i)robots\.txt`),
	regexp.MustCompile(`(?i)sitemap[^/]*\.xml`),
	regexp.MustCompile(`(?i)service-?worker`),
	regexp.MustCompile(`(?i)/sw\.js`),
	regexp.MustCompile(`(?i)apple-touch-icon`),
	regexp.MustCompile(`(?i)browserconfig\.xml`),
	regexp.MustCompile(`(?i)__webpack_hmr|hot-update|/sockjs-node`),
	regexp.MustCompile(`(?i)/\.well-known/`),
}

// extensionPatterns match browser-extension URI schemes and their stack frames.
var extensionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)chrome-extension:`),
	regexp.MustCompile(`(?i)moz-extension:`),
	regexp.MustCompile(`(?i)safari-(web-)?extension:`),
	regexp.MustCompile(`(?i)ms-browser-extension:`),
	regexp.MustCompile(`(?i)edge-extension:`),
	regexp.MustCompile(`(?i)webkit-masked-url:`),
	regexp.MustCompile(`(?i)extensions/[a-z]{32}/`),
	regexp.MustCompile(`(?i)@moz-extension`),
}

func matchesAny(patterns []*regexp.Regexp, s string) bool {
	if s == "" {
		return false
	}
	for _, p := range patterns {
		if p.MatchString(s) {
			return true
		}
	}
	return false
}
