package utils

import (
	"regexp"
	"strings"
)

var hexAddressPattern = regexp.MustCompile("^[0-9a-fA-F]{40}$")

// IsEvmAddress checks whether address is a well-formed 20-byte EVM address
func IsEvmAddress(address string) bool {
	if address == "" {
		return false
	}
	if strings.HasPrefix(strings.ToLower(address), "0x") {
		return len(address) == 42 && hexAddressPattern.MatchString(address[2:])
	}
	return len(address) == 40 && hexAddressPattern.MatchString(address)
}

// IsZeroAddress checks for the 20-byte zero address in any accepted format
func IsZeroAddress(address string) bool {
	trimmed := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(address)), "0x")
	if len(trimmed) != 40 {
		return false
	}
	return strings.Count(trimmed, "0") == 40
}
