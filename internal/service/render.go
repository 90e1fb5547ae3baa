package service

import "strings"

const (
	FormatName      = "name"
	FormatPhone     = "phone"
	FormatNamePhone = "name_phone"
	FormatCustom    = "custom"
)

// Render substitutes every {key} in template with vars[key].
func Render(template string, vars map[string]string) string {
	if len(vars) == 0 || !strings.Contains(template, "{") {
		return template
	}
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

// WatermarkText builds the per-recipient mark for the configured format.
func WatermarkText(format, custom, name, phone string) string {
	switch format {
	case FormatName:
		return name
	case FormatPhone:
		return phone
	case FormatCustom:
		if custom == "" {
			custom = "{name} - {phone}"
		}
		return Render(custom, map[string]string{"name": name, "phone": phone})
	default:
		return name + " - " + phone
	}
}
