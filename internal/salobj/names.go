package salobj

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var nameIndexPattern = regexp.MustCompile(`^([a-zA-Z][a-zA-Z0-9_-]*)(?::(\d+))?$`)

// NameToNameIndex splits "Name[:index]" into name and index. A missing
// index is 0.
func NameToNameIndex(value string) (string, int, error) {
	m := nameIndexPattern.FindStringSubmatch(value)
	if m == nil {
		return "", 0, fmt.Errorf("%w: %q is not of the form Name[:index]", ErrInvalidName, value)
	}
	index := 0
	if m[2] != "" {
		n, err := strconv.Atoi(m[2])
		if err != nil {
			return "", 0, fmt.Errorf("%w: %q: %w", ErrInvalidName, value, err)
		}
		index = n
	}
	return m[1], index, nil
}

// ComponentKey returns the key a device group uses for one of its members:
// lowercase name, with "_index" appended for indexed components.
//
//	ComponentKey("MTMount", 0)  // "mtmount"
//	ComponentKey("Hexapod", 1)  // "hexapod_1"
func ComponentKey(name string, index int) string {
	key := strings.ToLower(name)
	if index != 0 {
		key += "_" + strconv.Itoa(index)
	}
	return key
}

// ComponentKeyFromName is ComponentKey for a "Name[:index]" string.
func ComponentKeyFromName(value string) (string, error) {
	name, index, err := NameToNameIndex(value)
	if err != nil {
		return "", err
	}
	return ComponentKey(name, index), nil
}
