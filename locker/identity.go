package locker

import (
	"net"
	"os"
	"strings"
	"sync"
)

var (
	fqdnOnce   sync.Once
	cachedFQDN string
)

// Identity returns the "<user>@<fqdn>" holder identity for this session.
// When user is empty the current-user environment value is used, falling
// back to "anonymous". The fqdn is computed once per process.
func Identity(user string) string {
	if user == "" {
		user = os.Getenv("USER")
	}
	if user == "" {
		user = "anonymous"
	}
	return user + "@" + fqdn()
}

func fqdn() string {
	fqdnOnce.Do(func() {
		cachedFQDN = lookupFQDN()
	})
	return cachedFQDN
}

func lookupFQDN() string {
	host, err := os.Hostname()
	if err != nil {
		return "localhost"
	}
	if strings.Contains(host, ".") {
		return host
	}
	if cname, err := net.LookupCNAME(host); err == nil {
		if cname = strings.TrimSuffix(cname, "."); cname != "" {
			return cname
		}
	}
	return host
}
