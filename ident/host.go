package ident

import (
	"os"
	"runtime"
	"strings"
	"sync"
)

var (
	hostOptions     OptionMap
	hostOptionsOnce sync.Once
)

// HostOptions returns the option values describing this host: os, arch
// and, when detectable, the distro name and version. The map is
// computed once per process and never changes during a run.
func HostOptions() OptionMap {
	hostOptionsOnce.Do(func() {
		hostOptions = OptionMap{
			"os":   runtime.GOOS,
			"arch": runtime.GOARCH,
		}
		if id, version, ok := readOSRelease(); ok {
			hostOptions["distro"] = id
			if version != "" {
				hostOptions[OptName(id)] = version
			}
		}
	})
	return hostOptions.Copy()
}

func readOSRelease() (id, version string, ok bool) {
	content, err := os.ReadFile("/etc/os-release")
	if err != nil {
		return "", "", false
	}
	for _, line := range strings.Split(string(content), "\n") {
		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		value = strings.Trim(value, `"`)
		switch key {
		case "ID":
			id = value
		case "VERSION_ID":
			version = value
		}
	}
	return id, version, id != ""
}
