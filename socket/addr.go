package socket

import "strings"

// parseAddr splits addr into a transport scheme and its remainder, per the
// §6 address grammar: "tcp://host:port" or "inproc://name".
func parseAddr(addr string) (scheme, rest string, err error) {
	i := strings.Index(addr, "://")
	if i < 0 {
		return "", "", ErrBadAddress
	}
	scheme = addr[:i]
	rest = addr[i+3:]
	switch scheme {
	case "tcp", "inproc":
		if rest == "" {
			return "", "", ErrBadAddress
		}
		return scheme, rest, nil
	default:
		return "", "", ErrBadAddress
	}
}
