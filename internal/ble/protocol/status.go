package protocol

import "unicode/utf8"

// SplitStatus breaks a status string into pieces that each fit in one Status
// frame. Empty text yields a single empty piece so that a blank status can
// still be sent.
func SplitStatus(text string) []string {
	if text == "" {
		return []string{""}
	}
	return splitText(text, MaxPayload)
}

// splitText cuts text into chunks of at most maxBytes, preferring the last
// space inside the window and never cutting a UTF-8 sequence. A single rune
// wider than maxBytes is emitted whole so the loop always advances.
func splitText(text string, maxBytes int) []string {
	if len(text) == 0 || maxBytes <= 0 {
		return nil
	}

	var chunks []string
	for len(text) > maxBytes {
		cut := maxBytes
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		if cut == 0 {
			_, size := utf8.DecodeRuneInString(text)
			cut = size
		} else {
			for i := cut; i > 0; i-- {
				if text[i-1] == ' ' {
					cut = i
					break
				}
			}
		}
		chunks = append(chunks, text[:cut])
		text = text[cut:]
	}
	if len(text) > 0 {
		chunks = append(chunks, text)
	}
	return chunks
}
