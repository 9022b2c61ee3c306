package manage

import "strings"

// Tag holds the fields split out of an NVT tag blob.
type Tag struct {
	CVSSBase   string
	RiskFactor string
	// Rest is the tag with the extracted fields removed.
	Rest string
}

// ParseTag splits the cvss_base and risk_factor fields out of a tag blob of
// the form "name=value|name=value". Unknown fields stay in Rest, in order.
func ParseTag(tag string) Tag {
	var t Tag
	var rest []string
	for _, field := range strings.Split(tag, "|") {
		if strings.TrimSpace(field) == "" {
			continue
		}
		name, value, _ := strings.Cut(field, "=")
		switch strings.TrimSpace(name) {
		case "cvss_base":
			t.CVSSBase = strings.TrimSpace(value)
		case "risk_factor":
			t.RiskFactor = strings.TrimSpace(value)
		default:
			rest = append(rest, field)
		}
	}
	t.Rest = strings.Join(rest, "|")
	return t
}
