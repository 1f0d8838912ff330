package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// RenderDefaultTOML renders a TOML config with defaults from GetConfigOptions.
func RenderDefaultTOML() string {
	var b strings.Builder
	b.WriteString("# Multidustry configuration (TOML)\n\n")

	top, sections, order := groupOptions(GetConfigOptions())
	for _, o := range top {
		b.WriteString(renderOption(o))
	}
	for _, section := range order {
		b.WriteString("[" + section + "]\n")
		for _, o := range sections[section] {
			b.WriteString(renderOption(o))
		}
	}
	return b.String()
}

// UpdateTOML adds options missing from existing and comments out keys the
// schema no longer knows. Missing options land in the table they belong to.
// It reports whether anything changed. A file that is not valid TOML is
// returned as an error and left alone.
func UpdateTOML(existing string) (string, bool, error) {
	var raw map[string]any
	md, err := toml.Decode(existing, &raw)
	if err != nil {
		return "", false, fmt.Errorf("parse existing config: %w", err)
	}
	seen := make(map[string]bool)
	for _, k := range md.Keys() {
		seen[strings.Join(k, ".")] = true
	}

	opts := GetConfigOptions()
	known := make(map[string]bool, len(opts))
	for _, o := range opts {
		known[o.Key] = true
	}

	lines := strings.Split(existing, "\n")
	present := map[string]bool{"": true}
	for _, line := range lines {
		if name, ok := tableHeader(strings.TrimSpace(line)); ok {
			present[name] = true
		}
	}

	top, sections, order := groupOptions(opts)
	sections[""] = top
	changed := false
	flush := func(out []string, section string) []string {
		added := false
		for _, o := range sections[section] {
			if seen[qualify(section, o.Key)] {
				continue
			}
			if !added {
				out = append(out, "# Added by config update")
				added = true
			}
			out = append(out, strings.TrimRight(renderOption(o), "\n"), "")
			changed = true
		}
		return out
	}

	out := make([]string, 0, len(lines))
	section := ""
	for _, line := range lines {
		trim := strings.TrimSpace(line)
		if name, ok := tableHeader(trim); ok {
			out = flush(out, section)
			section = name
			out = append(out, line)
			continue
		}
		key, ok := parseTOMLKey(trim)
		if ok && !known[qualify(section, key)] {
			out = append(out, "# OUTDATED: option removed from config schema", "# "+trim)
			changed = true
			continue
		}
		out = append(out, line)
	}
	out = flush(out, section)

	for _, name := range order {
		if present[name] {
			continue
		}
		out = append(out, "["+name+"]")
		out = flush(out, name)
	}
	return strings.Join(out, "\n"), changed, nil
}

func tableHeader(trim string) (string, bool) {
	if strings.HasPrefix(trim, "[") && strings.HasSuffix(trim, "]") {
		return strings.TrimSpace(trim[1 : len(trim)-1]), true
	}
	return "", false
}

func qualify(section, key string) string {
	if section == "" {
		return key
	}
	return section + "." + key
}

func groupOptions(opts []ConfigOption) (top []ConfigOption, sections map[string][]ConfigOption, order []string) {
	sections = make(map[string][]ConfigOption)
	for _, o := range opts {
		head, rest, ok := strings.Cut(o.Key, ".")
		if !ok {
			top = append(top, o)
			continue
		}
		if _, ok := sections[head]; !ok {
			order = append(order, head)
		}
		sections[head] = append(sections[head], ConfigOption{Key: rest, Default: o.Default, Comment: o.Comment})
	}
	return top, sections, order
}

func parseTOMLKey(line string) (string, bool) {
	key, _, ok := strings.Cut(line, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" || strings.ContainsAny(key[:1], "[#\"'") {
		return "", false
	}
	return key, true
}

func renderOption(o ConfigOption) string {
	var b strings.Builder
	if o.Comment != "" {
		b.WriteString("# " + o.Comment + "\n")
	}
	b.WriteString(o.Key + " = " + tomlValue(o.Default) + "\n\n")
	return b.String()
}

func tomlValue(v any) string {
	switch x := v.(type) {
	case string:
		return fmt.Sprintf("%q", x)
	case time.Duration:
		return fmt.Sprintf("%q", x.String())
	case []string:
		parts := make([]string, len(x))
		for i, s := range x {
			parts[i] = fmt.Sprintf("%q", s)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	default:
		return fmt.Sprintf("%v", x)
	}
}
