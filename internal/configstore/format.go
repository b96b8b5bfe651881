package configstore

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/vk/kbuildgo/internal/kconfig"
)

const prefix = "CONFIG_"

var (
	notSetRe  = regexp.MustCompile(`^# CONFIG_([A-Za-z0-9_]+) is not set$`)
	builtinRe = regexp.MustCompile(`^# builtin ([A-Za-z0-9_]+)=(".*")$`)
	intRe     = regexp.MustCompile(`^-?[0-9]+$`)
)

// Write renders state in .config format. Symbols are sorted by name.
func Write(w io.Writer, state *kconfig.State, version string) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, "#")
	fmt.Fprintln(bw, "# Automatically generated file; DO NOT EDIT.")
	fmt.Fprintf(bw, "# kbuildgo %s configuration\n", version)
	fmt.Fprintf(bw, "# state sha256:%s\n", state.Hash())
	builtins := state.Builtins()
	for _, name := range sortedKeys(builtins) {
		fmt.Fprintf(bw, "# builtin %s=%q\n", name, builtins[name])
	}
	fmt.Fprintln(bw, "#")
	for _, name := range state.Names() {
		e, _ := state.Lookup(name)
		if e.IsSet() {
			fmt.Fprintf(bw, "%s%s=%s\n", prefix, name, e.String())
		} else {
			fmt.Fprintf(bw, "# %s%s is not set\n", prefix, name)
		}
	}
	return bw.Flush()
}

// Parse reads a .config stream. Values are typed from their syntax: y, m
// and n are tristates, quoted text is a string, 0x-prefixed values are hex
// and decimal values are ints.
func Parse(r io.Reader) (*kconfig.State, error) {
	entries := make(map[string]kconfig.Entry)
	builtins := make(map[string]string)

	err := scan(r, func(lineNo int, name, raw string, notSet bool) error {
		if notSet {
			entries[name] = kconfig.TristateEntry(kconfig.KindTristate, kconfig.No)
			return nil
		}
		e, err := parseValue(raw)
		if err != nil {
			return fmt.Errorf("line %d: %s: %w", lineNo, name, err)
		}
		entries[name] = e
		return nil
	}, func(name, value string) {
		builtins[name] = value
	})
	if err != nil {
		return nil, err
	}
	return kconfig.NewState(entries, nil, builtins), nil
}

// LoadDelta reads a defconfig-style fragment. "is not set" lines become n.
func LoadDelta(path string) (kconfig.Delta, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open configuration fragment: %w", err)
	}
	defer f.Close()

	delta := make(kconfig.Delta)
	err = scan(f, func(_ int, name, raw string, notSet bool) error {
		if notSet {
			raw = "n"
		}
		delta[name] = raw
		return nil
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return delta, nil
}

func scan(r io.Reader, assign func(lineNo int, name, raw string, notSet bool) error, builtin func(name, value string)) error {
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if m := notSetRe.FindStringSubmatch(line); m != nil {
			if err := assign(lineNo, m[1], "", true); err != nil {
				return err
			}
			continue
		}
		if m := builtinRe.FindStringSubmatch(line); m != nil {
			if builtin != nil {
				var v string
				if _, err := fmt.Sscanf(m[2], "%q", &v); err != nil {
					return fmt.Errorf("line %d: malformed builtin: %w", lineNo, err)
				}
				builtin(m[1], v)
			}
			continue
		}
		if strings.HasPrefix(line, "#") {
			continue
		}
		name, raw, ok := strings.Cut(line, "=")
		if !ok || !strings.HasPrefix(name, prefix) || len(name) == len(prefix) {
			return fmt.Errorf("line %d: expected %sNAME=VALUE, got %q", lineNo, prefix, line)
		}
		if err := assign(lineNo, strings.TrimPrefix(name, prefix), raw, false); err != nil {
			return err
		}
	}
	return sc.Err()
}

func parseValue(raw string) (kconfig.Entry, error) {
	switch {
	case raw == "y" || raw == "m" || raw == "n":
		return kconfig.ParseEntry(kconfig.KindTristate, raw)
	case strings.HasPrefix(raw, `"`):
		if len(raw) < 2 || !strings.HasSuffix(raw, `"`) {
			return kconfig.Entry{}, fmt.Errorf("unterminated string %s", raw)
		}
		return kconfig.ParseEntry(kconfig.KindString, raw)
	case strings.HasPrefix(raw, "0x") || strings.HasPrefix(raw, "0X"):
		return kconfig.ParseEntry(kconfig.KindHex, raw)
	case intRe.MatchString(raw):
		return kconfig.ParseEntry(kconfig.KindInt, raw)
	}
	return kconfig.ParseEntry(kconfig.KindString, raw)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
