package artifact

import (
	"fmt"
	"modelops/internal/apperrors"
	"strings"
)

const maxVariantLength = 64

// ValidateVariant checks that a variant name is safe to embed in store keys.
func ValidateVariant(variant string) error {
	if variant == "" {
		return apperrors.Validation("variant", "variant is required")
	}
	if len(variant) > maxVariantLength {
		return apperrors.Validation("variant", fmt.Sprintf("variant must be at most %d characters", maxVariantLength))
	}
	for _, r := range variant {
		if !isVariantRune(r) {
			return apperrors.Validation("variant", fmt.Sprintf("variant %q may only contain lowercase letters, digits, '-' and '_'", variant))
		}
	}
	if strings.HasPrefix(variant, "-") || strings.HasPrefix(variant, "_") {
		return apperrors.Validation("variant", fmt.Sprintf("variant %q must start with a letter or digit", variant))
	}
	return nil
}

func isVariantRune(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' || r == '_'
}

// VariantFromRawKey returns the variant of a raw dataset key ("red.csv" -> "red").
func VariantFromRawKey(key string) (string, bool) {
	variant, ok := strings.CutSuffix(key, ".csv")
	if !ok || strings.Contains(variant, "/") {
		return "", false
	}
	if ValidateVariant(variant) != nil {
		return "", false
	}
	return variant, true
}
