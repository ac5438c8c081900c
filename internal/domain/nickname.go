package domain

import "regexp"

const (
	MinNicknameLen = 2
	MaxNicknameLen = 10
)

var (
	nicknameCharset = regexp.MustCompile(`^[-a-zA-Z가-힣0-9_.]{2,10}$`)
	nicknameLetter  = regexp.MustCompile(`[a-zA-Z가-힣]`)
)

// ValidNickname reports whether a display name is acceptable: 2-10 runes of
// latin/hangul letters, digits, -, _ or ., with at least one letter.
func ValidNickname(nickname string) bool {
	return nicknameCharset.MatchString(nickname) && nicknameLetter.MatchString(nickname)
}
