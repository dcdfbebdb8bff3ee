package utils

// ToStringSlice converts a decoded JSON array into a string slice,
// dropping any non-string members.
func ToStringSlice(slice []any) []string {
	stringSlice := make([]string, 0)
	for _, v := range slice {
		if s, ok := v.(string); ok {
			stringSlice = append(stringSlice, s)
		}
	}
	return stringSlice
}

// ClaimString reads a string claim from a decoded JWT payload, returning
// the empty string when the claim is absent or has a different type.
func ClaimString(claims map[string]any, key string) string {
	s, _ := claims[key].(string)
	return s
}

// ClaimStrings reads a string-array claim from a decoded JWT payload.
func ClaimStrings(claims map[string]any, key string) []string {
	v, ok := claims[key].([]any)
	if !ok {
		return nil
	}
	return ToStringSlice(v)
}
