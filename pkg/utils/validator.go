package utils

import (
	"fmt"
	"regexp"
	"strconv"
)

var tvaRegex = regexp.MustCompile(`^FR[0-9A-Z]{2}[0-9]{9}$`)

// ValidateSIRET validates a French SIRET number (14 digits, Luhn-checked).
func ValidateSIRET(siret string) error {
	if len(siret) != 14 {
		return fmt.Errorf("SIRET must be 14 digits: %s", siret)
	}

	sum := 0
	for i, r := range siret {
		d, err := strconv.Atoi(string(r))
		if err != nil {
			return fmt.Errorf("SIRET must be 14 digits: %s", siret)
		}
		if i%2 == 0 {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
	}
	if sum%10 != 0 {
		return fmt.Errorf("SIRET checksum failed: %s", siret)
	}
	return nil
}

// ValidateTVA validates a French intra-community VAT number (FR + key + SIREN).
func ValidateTVA(tva string) error {
	if !tvaRegex.MatchString(tva) {
		return fmt.Errorf("invalid TVA number format: %s", tva)
	}
	return nil
}
