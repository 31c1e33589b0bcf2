package presence

import "strings"

// Label formats a typing indicator for the given display names:
// "X is typing…", "X and Y are typing…". Empty input yields "".
func Label(names []string) string {
	switch len(names) {
	case 0:
		return ""
	case 1:
		return names[0] + " is typing…"
	case 2:
		return names[0] + " and " + names[1] + " are typing…"
	default:
		return strings.Join(names[:len(names)-1], ", ") + " and " + names[len(names)-1] + " are typing…"
	}
}
