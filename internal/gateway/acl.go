package gateway

import (
	"regexp"
	"strings"
	"sync"
)

// ACL maps a client role to the list of channel-prefix patterns it may
// subscribe to. "*" grants unrestricted access (the "internal" role).
type ACL map[string][]string

// DefaultACL mirrors the reference gateway's role table: "user" sees
// market/indicator data, "admin" additionally sees engine signals and
// decisions, "internal" sees everything.
func DefaultACL() ACL {
	return ACL{
		"user": {
			"market:tick:*",
			"market:tick",
			"indicators:*",
		},
		"admin": {
			"market:tick:*",
			"market:tick",
			"engine:signal:*",
			"engine:signal",
			"engine:decision:*",
			"engine:decision",
			"indicators:*",
		},
		"internal": {"*"},
	}
}

// Allows reports whether role may subscribe to channel, matching against
// the role's allowed prefixes (and simple wildcard patterns within them).
func (a ACL) Allows(role, channel string) bool {
	prefixes, ok := a[role]
	if !ok {
		prefixes = a["user"]
	}
	for _, prefix := range prefixes {
		if prefix == "*" {
			return true
		}
		if strings.HasSuffix(prefix, "*") {
			if strings.HasPrefix(channel, strings.TrimSuffix(prefix, "*")) {
				return true
			}
			continue
		}
		if prefix == channel {
			return true
		}
	}
	return false
}

var patternCache = struct {
	mu sync.Mutex
	m  map[string]*regexp.Regexp
}{m: make(map[string]*regexp.Regexp)}

// matchGlob reports whether channel matches the Redis-style glob pattern
// (`*` any run, `?` single character), compiling and caching the regexp.
func matchGlob(pattern, channel string) bool {
	patternCache.mu.Lock()
	re, ok := patternCache.m[pattern]
	if !ok {
		re = globToRegexp(pattern)
		patternCache.m[pattern] = re
	}
	patternCache.mu.Unlock()
	return re.MatchString(channel)
}

func globToRegexp(glob string) *regexp.Regexp {
	var b strings.Builder
	b.WriteString("^")
	for _, r := range glob {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return regexp.MustCompile(b.String())
}

// isWildcard reports whether channel contains glob metacharacters, i.e. is
// a pattern subscription rather than an exact-channel one.
func isWildcard(channel string) bool {
	return strings.ContainsAny(channel, "*?")
}
