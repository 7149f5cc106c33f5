// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package commandline

import (
	"encoding/json"
	"flag"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/pkg/errors"
)

// ParseSettings from settings -- typically the contents of a flag set by the user.
// The settings are a list separated by ";": e.g.: "param1=value1;param2=value2;...".
//
// params maps the known parameter names to pointers to their values (see config.RunConfig.Params). The
// pointer type is used to parse the string values.
//
// It returns the list of parameters set, and an error in case a parameter is unknown or the parsing failed.
//
// For integer types, "_" is removed: it allows one to enter large numbers using it as a separator, like
// in Go. E.g.: 1_000_000 = 1000000.
//
// An entry "file:<path>" reads the settings from a file, with new-lines working as ";" and lines
// starting with "#" taken as comments.
func ParseSettings(params map[string]any, settings string) (paramsSet []string, err error) {
	for _, setting := range strings.Split(settings, ";") {
		paramsSet, err = parseSetting(params, setting, paramsSet)
		if err != nil {
			return
		}
	}
	return
}

func parseSetting(params map[string]any, setting string, paramsSet []string) (newParamsSet []string, err error) {
	newParamsSet = paramsSet
	setting = strings.TrimSpace(setting)
	if setting == "" {
		return
	}
	if strings.HasPrefix(setting, "file:") {
		filePath := replaceTilde(strings.TrimPrefix(setting, "file:"))
		var contents []byte
		contents, err = os.ReadFile(filePath)
		if err != nil {
			err = errors.Wrapf(err, "failed to read settings from file %q", filePath)
			return
		}
		for _, line := range strings.Split(string(contents), "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			for _, setting := range strings.Split(line, ";") {
				newParamsSet, err = parseSetting(params, setting, newParamsSet)
				if err != nil {
					return
				}
			}
		}
		return
	}

	parts := strings.Split(setting, "=")
	if len(parts) != 2 {
		err = errors.Errorf("can't parse settings %q: each setting requires the format \"<param>=<value>\"", setting)
		return
	}
	paramName, valueStr := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
	ptr, found := params[paramName]
	if !found {
		err = errors.Errorf("can't set parameter %q: unknown parameter, known parameters are %v",
			paramName, slices.Sorted(maps.Keys(params)))
		return
	}

	switch v := ptr.(type) {
	case *int:
		err = json.Unmarshal([]byte(strings.ReplaceAll(valueStr, "_", "")), v)
	case *uint64:
		err = json.Unmarshal([]byte(strings.ReplaceAll(valueStr, "_", "")), v)
	case *float64:
		err = json.Unmarshal([]byte(valueStr), v)
	case *bool:
		err = json.Unmarshal([]byte(valueStr), v)
	case *string:
		*v = valueStr
	case *[]string:
		*v = strings.Split(valueStr, ",")
	default:
		err = errors.Errorf("don't know how to parse type %T for setting parameter %q", ptr, setting)
	}
	if err != nil {
		err = errors.Wrapf(err, "failed to parse value %q for parameter %q", valueStr, paramName)
		return
	}
	newParamsSet = append(newParamsSet, paramName)
	return
}

func replaceTilde(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}

// CreateSettingsFlag creates a string flag with the given flagName (if empty it will be named
// "set") and with a description of the parameters that can be set.
//
// The flag should be created before the call to `flag.Parse()`.
func CreateSettingsFlag(params map[string]any, flagName string) *string {
	if flagName == "" {
		flagName = "set"
	}
	parts := []string{
		`Override settings of the run configuration. ` +
			`It should be a list of elements "param=value" separated by ";". ` +
			`It can also be given an entry like: "file:settings_file.txt", in ` +
			`which case the file will be read and the settings will be parsed, ` +
			`with new-lines working as ";" to separate settings and lines starting with "#" are considered comments. ` +
			`Parameters that can be set:`,
	}
	for _, name := range slices.Sorted(maps.Keys(params)) {
		parts = append(parts, fmt.Sprintf("%q: default value is %v", name, deref(params[name])))
	}
	var settings string
	flag.StringVar(&settings, flagName, "", strings.Join(parts, "\n"))
	return &settings
}

// SprintModifiedSettings pretty-prints the values of the parameters set, without duplicates.
func SprintModifiedSettings(params map[string]any, paramsSet []string) string {
	paramsSet = slices.Clone(paramsSet)
	slices.Sort(paramsSet)
	paramsSet = slices.Compact(paramsSet)
	var parts []string
	for _, name := range paramsSet {
		ptr, found := params[name]
		if !found {
			continue
		}
		value := deref(ptr)
		parts = append(parts, fmt.Sprintf("\t%q: (%T) %v", name, value, value))
	}
	return strings.Join(parts, "\n")
}

func deref(ptr any) any {
	switch v := ptr.(type) {
	case *int:
		return *v
	case *uint64:
		return *v
	case *float64:
		return *v
	case *bool:
		return *v
	case *string:
		return *v
	case *[]string:
		return *v
	}
	return ptr
}
