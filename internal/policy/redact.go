package policy

// Mask replaces the hidden part of a redacted value.
const Mask = "*****"

// DefaultRedactVisible is the number of characters kept on each side.
const DefaultRedactVisible = 4

// Redact masks value keeping n characters at each end. A nil value stays nil.
func Redact(value *string, n int) *string {
	if value == nil {
		return nil
	}
	out := RedactString(*value, n)
	return &out
}

// RedactString is Redact for values that are known to be present.
// Lengths count runes, so multi-byte characters are never split.
func RedactString(value string, n int) string {
	if n < 0 {
		n = 0
	}
	runes := []rune(value)
	if len(runes) <= 2*n {
		return Mask
	}
	return string(runes[:n]) + Mask + string(runes[len(runes)-n:])
}
