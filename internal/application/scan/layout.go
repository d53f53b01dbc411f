package scan

import "strings"

// ru2en maps Cyrillic characters to the Latin character on the same
// physical key of a standard ЙЦУКЕН/QWERTY keyboard. Wedge scanners type
// whatever the OS layout says, so a scan taken while the layout is Russian
// arrives as Cyrillic garbage that this table undoes.
var ru2en = map[rune]rune{
	'й': 'q', 'ц': 'w', 'у': 'e', 'к': 'r', 'е': 't', 'н': 'y',
	'г': 'u', 'ш': 'i', 'щ': 'o', 'з': 'p', 'х': '[', 'ъ': ']',
	'ф': 'a', 'ы': 's', 'в': 'd', 'а': 'f', 'п': 'g', 'р': 'h',
	'о': 'j', 'л': 'k', 'д': 'l', 'ж': ';', 'э': '\'',
	'я': 'z', 'ч': 'x', 'с': 'c', 'м': 'v', 'и': 'b', 'т': 'n',
	'ь': 'm', 'б': ',', 'ю': '.', 'ё': '`',
}

// NormalizeLayout converts a raw scan token to uppercase Latin, undoing a
// Russian OS keyboard layout if one was active during the scan.
func NormalizeLayout(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if mapped, ok := ru2en[r]; ok {
			r = mapped
		}
		b.WriteRune(r)
	}
	return strings.ToUpper(b.String())
}
