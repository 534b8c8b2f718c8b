// Package pix builds EMV "copy and paste" PIX payloads. The output is a
// concatenation of tag-length-value fields terminated by a CRC16 checksum
// and is deterministic for identical inputs, so a retried checkout page
// always renders the same code.
package pix

import (
	"fmt"
	"strings"

	"github.com/luastore/ms-go-checkout/app/money"
)

const (
	pixGUI = "br.gov.bcb.pix"

	maxMerchantNameLen = 25
	maxMerchantCityLen = 15
	maxDescriptionLen  = 25
)

// BuildPayload assembles the EMV payload for a static PIX charge.
// Merchant name, city and description are folded to the EMV-safe ASCII
// subset before length prefixes are computed; the amount field carries
// the bare cent digits per the convention used by Brazilian PSPs.
func BuildPayload(key string, amountCents int64, merchantName, merchantCity, description string) string {
	account := tlv("00", pixGUI) + tlv("01", strings.TrimSpace(key))

	description = truncate(sanitize(description), maxDescriptionLen)
	if description == "" {
		description = "***"
	}

	var b strings.Builder
	b.WriteString(tlv("00", "01"))
	b.WriteString(tlv("26", account))
	b.WriteString(tlv("52", "0000"))
	b.WriteString(tlv("53", "986"))
	if amountCents > 0 {
		b.WriteString(tlv("54", money.DigitsOnly(amountCents)))
	}
	b.WriteString(tlv("58", "BR"))
	b.WriteString(tlv("59", truncate(sanitize(merchantName), maxMerchantNameLen)))
	b.WriteString(tlv("60", truncate(sanitize(merchantCity), maxMerchantCityLen)))
	b.WriteString(tlv("62", tlv("05", description)))
	b.WriteString("6304")

	payload := b.String()
	return payload + fmt.Sprintf("%04X", crc16([]byte(payload)))
}

// tlv prefixes value with tag and a 2-digit zero-padded character count
// of the value alone.
func tlv(tag, value string) string {
	return tag + fmt.Sprintf("%02d", len(value)) + value
}

// crc16 is CRC-16/CCITT-FALSE: polynomial 0x1021, initial value 0xFFFF,
// no reflection, no final xor. Computed over the payload including the
// trailing "6304" checksum tag and length.
func crc16(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

var accentFold = map[rune]rune{
	'á': 'a', 'à': 'a', 'â': 'a', 'ã': 'a', 'ä': 'a',
	'é': 'e', 'è': 'e', 'ê': 'e', 'ë': 'e',
	'í': 'i', 'ì': 'i', 'î': 'i', 'ï': 'i',
	'ó': 'o', 'ò': 'o', 'ô': 'o', 'õ': 'o', 'ö': 'o',
	'ú': 'u', 'ù': 'u', 'û': 'u', 'ü': 'u',
	'ç': 'c', 'ñ': 'n',
	'Á': 'A', 'À': 'A', 'Â': 'A', 'Ã': 'A', 'Ä': 'A',
	'É': 'E', 'È': 'E', 'Ê': 'E', 'Ë': 'E',
	'Í': 'I', 'Ì': 'I', 'Î': 'I', 'Ï': 'I',
	'Ó': 'O', 'Ò': 'O', 'Ô': 'O', 'Õ': 'O', 'Ö': 'O',
	'Ú': 'U', 'Ù': 'U', 'Û': 'U', 'Ü': 'U',
	'Ç': 'C', 'Ñ': 'N',
}

// sanitize folds common accented characters to ASCII and drops anything
// outside the printable ASCII range, so TLV length prefixes always count
// single-byte characters.
func sanitize(s string) string {
	var b strings.Builder
	for _, r := range s {
		if folded, ok := accentFold[r]; ok {
			r = folded
		}
		if r >= 0x20 && r <= 0x7E {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
