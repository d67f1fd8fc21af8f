package profiles

import "strings"

const nameFieldLimit = 30

// SplitName derives first and last names from a display name. Names longer than twice
// the limit are cut into two limit-sized pieces, otherwise the first word becomes the
// first name and the rest the last name.
func SplitName(name string, limit int) (string, string) {
	runes := []rune(name)
	if len(runes) > limit*2 {
		return string(runes[:limit]), string(runes[limit : limit*2])
	}

	words := strings.Fields(name)
	if len(words) == 0 {
		return "", ""
	}
	return words[0], strings.Join(words[1:], " ")
}
