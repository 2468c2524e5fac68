package tokenizer

import "strings"

// byteRunes maps every byte to a printable rune, leaving printable Latin-1
// as-is and shifting the rest above U+0100. This is the GPT-2/CLIP scheme
// that lets BPE operate on strings without whitespace or control bytes.
var byteRunes, byteOrder = bytesToUnicode()

func bytesToUnicode() ([256]rune, []byte) {
	var table [256]rune
	var order []byte
	printable := make(map[int]bool)
	for _, span := range [][2]int{{'!', '~'}, {'¡', '¬'}, {'®', 'ÿ'}} {
		for b := span[0]; b <= span[1]; b++ {
			printable[b] = true
			table[b] = rune(b)
			order = append(order, byte(b))
		}
	}

	n := 0
	for b := 0; b < 256; b++ {
		if !printable[b] {
			table[b] = rune(256 + n)
			order = append(order, byte(b))
			n++
		}
	}
	return table, order
}

func byteEncode(s string) string {
	var sb strings.Builder
	for _, b := range []byte(s) {
		sb.WriteRune(byteRunes[b])
	}
	return sb.String()
}
