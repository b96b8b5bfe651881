package toolchain

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// WriteDepFile creates a gcc-style depfile stating that target depends on
// deps.
func WriteDepFile(filename, target string, deps []string) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer f.Close()

	escaped := make([]string, len(deps))
	for i, d := range deps {
		escaped[i] = strings.ReplaceAll(d, " ", `\ `)
	}
	_, err = fmt.Fprintf(f, "%s: \\\n %s\n", target, strings.Join(escaped, " \\\n "))
	return err
}

// ParseDepFile reads a gcc-style depfile and returns the prerequisites of
// its first rule, in order and without duplicates. Rules without
// prerequisites, as emitted by -MP, are ignored.
func ParseDepFile(r io.Reader) ([]string, error) {
	var (
		logical strings.Builder
		rules   []string
	)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if strings.HasSuffix(line, `\`) && !strings.HasSuffix(line, `\\`) {
			logical.WriteString(strings.TrimSuffix(line, `\`))
			logical.WriteByte(' ')
			continue
		}
		logical.WriteString(line)
		if s := strings.TrimSpace(logical.String()); s != "" {
			rules = append(rules, s)
		}
		logical.Reset()
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if s := strings.TrimSpace(logical.String()); s != "" {
		rules = append(rules, s)
	}

	for _, rule := range rules {
		fields := splitEscaped(rule)
		colon := -1
		for i, f := range fields {
			if strings.HasSuffix(f, ":") {
				colon = i
				break
			}
		}
		if colon < 0 {
			return nil, fmt.Errorf("malformed depfile rule %q", rule)
		}
		prereqs := fields[colon+1:]
		if len(prereqs) == 0 {
			continue
		}
		seen := make(map[string]bool, len(prereqs))
		var out []string
		for _, p := range prereqs {
			if !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
		return out, nil
	}
	return nil, nil
}

// splitEscaped splits on unescaped whitespace; "\ " is a literal space.
func splitEscaped(s string) []string {
	var (
		fields []string
		cur    strings.Builder
	)
	flush := func() {
		if cur.Len() > 0 {
			fields = append(fields, cur.String())
			cur.Reset()
		}
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '\\' && i+1 < len(s) && s[i+1] == ' ':
			cur.WriteByte(' ')
			i++
		case c == ' ' || c == '\t':
			flush()
		default:
			cur.WriteByte(c)
		}
	}
	flush()
	return fields
}
